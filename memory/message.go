package memory

import (
	"fmt"
	"strings"

	"github.com/bkio/crosscloudkit/primitive"
)

// ChangeKind enumerates the small vocabulary of mutating operations a
// MemoryService must describe in a change notification (spec §4.1).
type ChangeKind string

const (
	ChangeSetKeyValue                  ChangeKind = "SetKeyValue"
	ChangeDeleteKey                    ChangeKind = "DeleteKey"
	ChangeDeleteAllKeys                ChangeKind = "DeleteAllKeys"
	ChangePushToListHead               ChangeKind = "PushToListHead"
	ChangePushToListTail               ChangeKind = "PushToListTail"
	ChangePushToListTailIfNotExists    ChangeKind = "PushToListTailIfNotExists"
	ChangePopFirstElementOfList        ChangeKind = "PopFirstElementOfList"
	ChangePopLastElementOfList         ChangeKind = "PopLastElementOfList"
	ChangeRemoveElementsFromList       ChangeKind = "RemoveElementsFromList"
	ChangeEmptyList                    ChangeKind = "EmptyList"
	ChangeEmptyListAndSublists         ChangeKind = "EmptyListAndSublists"
)

// ChangeNotification is the payload published on a scope's change topic.
// Its String() form is the wire payload: tests assert substring membership
// of the operation kind, scope, and affected keys/values (spec §6), so the
// rendering deliberately includes all three verbatim rather than as a
// structured encoding.
type ChangeNotification struct {
	Operation ChangeKind
	Scope     string
	Keys      []string
	Values    []primitive.Primitive
}

func (c ChangeNotification) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "operation=%s scope=%s", c.Operation, c.Scope)
	if len(c.Keys) > 0 {
		fmt.Fprintf(&b, " keys=%s", strings.Join(c.Keys, ","))
	}
	if len(c.Values) > 0 {
		rendered := make([]string, len(c.Values))
		for i, v := range c.Values {
			rendered[i] = v.String()
		}
		fmt.Fprintf(&b, " values=%s", strings.Join(rendered, ","))
	}
	return b.String()
}
