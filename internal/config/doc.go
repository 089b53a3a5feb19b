// Package config provides the service configuration model, YAML loading
// with environment variable substitution, validation and file watching
// for hot reload.
//
// Load configuration from a YAML file:
//
//	cfg, err := config.Load("rosterguard.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Values may reference the environment with ${VAR} or ${VAR:-default};
// "$$" yields a literal dollar sign.
//
// Watch for configuration changes:
//
//	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
//	    // apply cfg
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	watcher.Start(ctx)
package config
