package ygggo_orm

// Version returns the current library version.
//
// During development, it returns "v0.0.0-dev".
func Version() string { return "v0.0.0-dev" }
