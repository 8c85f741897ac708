// Package streamcounter counts people in a live camera feed.
//
// A Session pulls NV12 frames from a FrameSource, converts them to padded
// RGB, runs a Detector on every Nth frame, draws the current count on the
// frame and publishes it to a frame store that a Presenter reads from.
// Capture and presentation run on separate goroutines and share only the
// store and two atomic counters.
//
// # Quick Start
//
//	devs, err := streamcounter.Enumerate(ctx, camera.Lister{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	idx, ok := streamcounter.SelectCamera(devs, "32E6", "9221")
//	if !ok {
//	    idx, ok = streamcounter.PromptCamera(os.Stdin, os.Stdout, devs)
//	}
//	if !ok {
//	    return
//	}
//
//	src := camera.NewSource(camera.SourceConfig{})
//	geom, err := src.Open(ctx, devs[idx])
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer src.Close()
//
//	session, err := streamcounter.NewSession(streamcounter.SessionConfig{Camera: devs[idx]}, geom, src, detector)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	session.Start(ctx)
//	go display.New(display.Config{}).Run(ctx, session.Store())
//	<-session.Done()
//	session.Stop(3 * time.Second)
//
// # Degraded Mode
//
// A nil Detector, or one whose calls fail, does not stop the session. The
// count stays 0 and a single warning is logged per outage.
package streamcounter
