package main

import (
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/siyicam/siyicam/pkg/log"
	"github.com/siyicam/siyicam/server"
	"github.com/siyicam/siyicam/server/camera"
	"github.com/siyicam/siyicam/server/config"
)

func main() {
	parser := argparse.NewParser("siyicam", "SIYI camera stream daemon")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (overrides the camera flags below)", Default: ""})
	urlFlag := parser.String("u", "url", &argparse.Options{Help: "Stream URL. {port} is replaced with --port", Default: camera.DefaultURL})
	portFlag := parser.String("p", "port", &argparse.Options{Help: "Stream port", Default: camera.DefaultPort})
	nameFlag := parser.String("n", "name", &argparse.Options{Help: "Camera name, used in logs and preview titling", Default: camera.DefaultCameraName})
	timeoutFlag := parser.Float("t", "timeout", &argparse.Options{Help: "Seconds without a frame before the session is shut down", Default: camera.DefaultTimeout.Seconds()})
	previewFlag := parser.Flag("", "preview", &argparse.Options{Help: "Enable the per-frame preview side effect", Default: false})
	httpFlag := parser.String("", "http", &argparse.Options{Help: "Address of the HTTP API", Default: ":8080"})
	verboseFlag := parser.Flag("v", "verbose", &argparse.Options{Help: "Enable debug logging", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg := &config.Config{
		Cameras: []config.Camera{{
			Name:           *nameFlag,
			URL:            *urlFlag,
			Port:           *portFlag,
			TimeoutSeconds: *timeoutFlag,
			Preview:        *previewFlag,
		}},
	}
	if *configFile != "" {
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			fmt.Printf("%v\n", err)
			os.Exit(1)
		}
	}

	logger, err := log.NewLog(*verboseFlag || cfg.Verbose)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	srv := server.NewServerFromConfig(logger, cfg)

	// A camera we can't reach at startup is fatal. There is no automatic
	// retry; systemd (or whoever launched us) decides whether to start over.
	if err := srv.StartAll(); err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}

	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	httpAddr := *httpFlag
	if cfg.HTTPPort != 0 {
		httpAddr = fmt.Sprintf(":%v", cfg.HTTPPort)
	}
	if err := srv.ListenHTTP(httpAddr); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
	}

	select {
	case <-srv.ShutdownComplete:
	case <-time.After(10 * time.Second):
		logger.Warnf("Timed out waiting for shutdown")
	}
	logger.Close()
}
