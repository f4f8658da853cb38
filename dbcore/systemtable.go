package dbcore

// systemTableBaseName is the reserved table name of spec §4.5 ("System
// table"); Base appends the configured postfix (if any) to it.
const systemTableBaseName = "cross-cloud-kit-database-system-table"

// keyAttrName is the attribute name every system-table row is keyed by.
const keyAttrName = "table"

// keysArrayAttr is the array attribute holding the union of every
// key-attribute name ever used for a given user table.
const keysArrayAttr = "keys"
