package ir

// Version constants recorded in the rename journal and in reports.
const (
	// RuleSchemaVersion is the version of the compiled rule-set schema.
	RuleSchemaVersion = "1"

	// ToolVersion is the dropcam version.
	ToolVersion = "0.3.0"
)
