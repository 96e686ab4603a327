// Package config loads desired-state documents and the tool's own settings.
//
// # Documents
//
// A document is a list of configuration blocks, either wrapped as
// {"Configurations": [...]} or given as a bare list. Three formats are read,
// chosen by file extension:
//
//   - .json, decoded with encoding/json
//   - .yaml and .yml, decoded with gopkg.in/yaml.v3
//   - .cue, evaluated with cuelang.org/go, so documents can share values
//     through hidden fields and references
//
// Every block is checked against the built-in CUE schema (#Block) held by
// SchemaRegistry. The schema checks types only: a block with the wrong shape
// is dropped as a whole. Blocks that pass are decoded into engine types and
// each item is then checked with go-playground/validator struct tags. An
// item that fails is dropped and reported; its siblings still load.
//
// Only an unreadable or unparsable document is an error, and it is always
// classified fatal:
//
//	loader := config.NewLoader(config.WithLogger(logger))
//	doc, err := loader.Load(ctx, "shop.yaml")
//	if err != nil {
//		return err // unreadable or unparsable
//	}
//	for _, issue := range doc.Issues {
//		fmt.Println(issue) // Configurations[0].Websites[1].Bindings[0]: ...
//	}
//	report, err := orchestrator.Converge(ctx, doc.Document, machine)
//
// # Settings
//
// Settings configure winconverge itself: run history location, logging,
// tracing, metrics, policy and the Windows driver. LoadSettings reads an
// optional .env file with joho/godotenv and then WINCONVERGE_* variables;
// command-line flags override both. MachineIdentity resolves the name blocks
// are matched against, falling back from the --machine flag through
// WINCONVERGE_MACHINE_NAME and COMPUTERNAME to the host name.
package config
