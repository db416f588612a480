// Package version holds the release version of the batchedit tool.
package version

// Current is the released version, without a "v" prefix.
const Current = "0.1.0"

// String is the text printed by the version command.
func String() string {
	return "batchedit " + Current
}
