// Package jauscore is the transport core for JAUS components.
//
// It moves JAUS messages between components, either on one host through
// shared memory mailboxes or across hosts over UDP, TCP and serial links.
// The root package holds no code; the functionality lives in subpackages.
//
// # Packages
//
//   - jaus: addresses, the 16 byte header, Stream and the Callback contract
//   - largedata: fragmentation of large messages and their reassembly
//   - shm: shared memory mailboxes and the node and component registries
//   - transport: UDP, TCP and serial channels with magic-token framing
//   - connection: a Manager that binds one component to one destination
//   - config: viper-backed configuration and logrus setup
//   - metrics: prometheus counters shared by every channel
//   - limits: wire size constants and validation
//
// # Getting Started
//
// Load configuration and connect to a peer, preferring shared memory when
// the peer runs on this host:
//
//	cfg := config.MustLoad("")
//	closer, err := config.SetupLogging(cfg.Log)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer closer.Close()
//
//	local, err := cfg.LocalAddress()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr, err := connection.New(local, connection.OptionsFromConfig(cfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Shutdown()
//
//	peer := jaus.NewAddress(1, 2, 1, 1)
//	cb := jaus.CallbackFunc(func(s *jaus.Stream, h *jaus.Header, kind jaus.TransportKind, extra any) {
//	    fmt.Printf("%s via %s\n", h, kind)
//	})
//	if err := mgr.Connect(ctx, peer, cb, "192.168.1.20", false); err != nil {
//	    log.Fatal(err)
//	}
//
//	msg, _ := jaus.NewStream(jaus.NewHeader(0x2002, local, peer), nil)
//	err = mgr.Send(msg)
//
// Messages larger than one packet are split into fragments on network and
// serial links. Receivers reassemble them when a largedata.Collector is
// installed with transport.WithCollector.
package jauscore
