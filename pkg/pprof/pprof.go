// Package pprof profiles the romc process itself while a command runs.
//
// File mode writes profiles under OutputDir/<profile>/ and is what
// `romc compile --pprof` uses:
//
//	cfg := pprof.DefaultConfig()
//	cfg.Label = "compile"
//	cfg.Profiles = []pprof.ProfileType{pprof.ProfileCPU, pprof.ProfileHeap}
//
//	collector, err := pprof.NewCollector(cfg)
//	if err != nil {
//	    return err
//	}
//	if err := collector.Start(ctx); err != nil {
//	    return err
//	}
//	defer collector.Stop()
//
// HTTP mode serves the standard /debug/pprof endpoints on Config.Addr for
// the life of the command instead.
package pprof
