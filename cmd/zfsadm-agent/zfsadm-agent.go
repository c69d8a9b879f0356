package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/straumur/zfsadm/internal/common"
	"github.com/straumur/zfsadm/internal/credentials"
	"github.com/straumur/zfsadm/internal/server"
	"github.com/straumur/zfsadm/internal/zfs"
)

var version string

func promptNewPassword() (string, error) {
	fmt.Fprint(os.Stderr, "New admin password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Repeat password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("password cannot be empty")
	}
	return string(first), nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	var config string
	flag.StringVar(&config, "c", "agent.json", "config: path to the configuration file or its content")
	askVersion := flag.Bool("v", false, "Print the version number")
	verbosity := flag.String("verbosity", "info", "verbosity level")
	setPassword := flag.Bool("setpassword", false, "Prompt for a new admin password, write it to the credential store and exit")
	flag.Parse()

	if *askVersion {
		fmt.Printf("zfsadm-agent %s\n", version)
		return
	}
	lvl, err := log.ParseLevel(*verbosity)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)

	sta := server.InitState(common.RealWorldState)
	if err := sta.ParseConfig(config); err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}

	if *setPassword {
		setter, ok := sta.Credentials.(credentials.Setter)
		if !ok {
			log.Fatal("the configured credential store cannot be written")
		}
		password, err := promptNewPassword()
		if err != nil {
			log.Fatal(err)
		}
		if err := setter.SetPassword(password, credentials.DefaultIterations); err != nil {
			log.Fatal(err)
		}
		log.Info("admin credential record updated")
		return
	}

	sta.Handler = zfs.NewRouter(zfs.NewCLI(log.WithField("component", "zfs")))

	if sta.AdminBindAddr != "" {
		go func() {
			log.Infof("admin API listening on http://%v", sta.AdminBindAddr)
			log.Error(server.ServeAdmin(sta.AdminBindAddr, sta))
		}()
	}
	if sta.WSBindAddr != "" {
		go func() {
			log.Infof("websocket listener on %v", sta.WSBindAddr)
			log.Error(server.ServeWS(sta.WSBindAddr, sta))
		}()
	}

	var wg sync.WaitGroup
	for _, bindAddr := range sta.BindAddr {
		wg.Add(1)
		go func(addr net.Addr) {
			listener, err := net.Listen("tcp", addr.String())
			if err != nil {
				log.Fatal(err)
			}
			log.Infof("agent listening on %v with TLS policy %v", listener.Addr(), sta.TLSPolicy)
			server.Serve(listener, sta)
			wg.Done()
		}(bindAddr)
	}
	wg.Wait()
	if len(sta.BindAddr) == 0 {
		// Websocket-only deployment; the WS listener goroutine owns the work.
		select {}
	}
}
