package testctl

// Indirection layer to allow stubbing in tests

var (
	fnRunGoTests   = runGoTests
	fnRunRaceTests = runRaceTests
	fnRunE2ETests  = runE2ETests

	fnSmoke = Smoke
	fnDemo  = runDemo
)
