package types

// Term is the election term carried in the primary half of a GTID.
type Term = uint64
