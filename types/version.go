package types

// Version is the canonical project version. The CLI and the persisted
// state documents share this version.
const Version = "0.4.2"
