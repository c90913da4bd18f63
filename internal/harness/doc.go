// Package harness runs rule conformance scenarios.
//
// A scenario pairs a CUE rules directory with a list of entries and the
// outcome each one should have. It is the executable form of a rule set's
// intent: "a coral drop without notes is refused", "DATE_TIME is filled from
// DATE and TIME".
//
// # Scenario Format
//
//	name: coral_requires_notes
//	description: "Coral drops must describe the coral"
//	rules: ../rules/reef          # relative to the scenario file
//	fields: [POINT_ID, SUBSTRATE] # optional entry field order
//	cases:
//	  - name: sand is fine
//	    entry: {POINT_ID: "12", SUBSTRATE: sand}
//	    expect:
//	      pass: true
//	      filled: {DATE_TIME: "27/11/2025 9:22"}
//	  - name: coral without notes
//	    entry: {POINT_ID: "12", SUBSTRATE: coral}
//	    expect:
//	      violations: [coral_notes.0]
//
// expect.pass defaults to true when no violations are listed. Listed
// violations are compared as a set of rule IDs. filled values are compared
// against the entry after autofill.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/coral.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, f := range result.Failures() {
//	    fmt.Println(f)
//	}
//
// In tests, RunWithGolden additionally snapshots every case's report under
// testdata/golden; regenerate with `go test ./... -update`.
package harness
