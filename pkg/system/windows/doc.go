// Package windows implements engine.System against the live machine.
//
// Reads and writes for IIS (WebAdministration), SMB shares, NTFS ACLs,
// optional features, the time zone and event-log sources run as PowerShell
// scripts through a Runner. Read scripts print one JSON document, or nothing
// when the resource does not exist. The hosts file and directory creation go
// through an afero filesystem so they can be tested in memory.
//
//	runner := windows.NewPowerShell("powershell.exe", windows.WithRateLimit(10, 5))
//	system := windows.New(runner, windows.WithHostsFile(hostsPath))
//	orch := engine.NewOrchestrator(system)
package windows
