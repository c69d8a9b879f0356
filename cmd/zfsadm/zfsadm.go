package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/straumur/zfsadm/internal/client"
	"github.com/straumur/zfsadm/internal/common"
)

var version string

const requestHelp = `requests:
  ping                        check the session end to end
  pool_list                   list pools
  pool_status -pool NAME      full status of one pool
  dataset_list                list filesystems and volumes
  snapshot_list -dataset DS   list snapshots of a dataset
  snapshot_create -dataset DS -snapshot NAME
  snapshot_destroy -dataset DS -snapshot NAME`

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	host := flag.String("host", "", "agent hostname or IP address")
	port := flag.String("port", client.DefaultPort, "agent port")
	password := flag.String("password", "", "admin password; prompted for when empty")
	tlsPolicy := flag.String("tls", "optional", "TLS policy: required, optional or disabled")
	serverName := flag.String("servername", "", "expected certificate hostname, defaults to -host")
	insecure := flag.Bool("insecure", false, "accept any agent certificate")
	pool := flag.String("pool", "", "pool name for pool_status")
	dataset := flag.String("dataset", "", "dataset name for snapshot requests")
	snapshot := flag.String("snapshot", "", "snapshot name for snapshot requests")
	verbosity := flag.String("verbosity", "warn", "verbosity level")
	askVersion := flag.Bool("v", false, "Print the version number")
	flag.Parse()

	if *askVersion {
		fmt.Printf("zfsadm %s\n", version)
		return
	}
	lvl, err := log.ParseLevel(*verbosity)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)

	if *host == "" {
		fmt.Fprintln(os.Stderr, "-host is required")
		fmt.Fprintln(os.Stderr, requestHelp)
		os.Exit(2)
	}

	reqType := flag.Arg(0)
	if reqType == "" {
		reqType = "ping"
	}
	req := map[string]interface{}{"type": reqType}
	if *pool != "" {
		req["pool"] = *pool
	}
	if *dataset != "" {
		req["dataset"] = *dataset
	}
	if *snapshot != "" {
		req["snapshot"] = *snapshot
	}

	pw := *password
	if pw == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		entered, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatal(err)
		}
		pw = string(entered)
	}

	conf := client.Config{
		RemoteHost:         *host,
		RemotePort:         *port,
		Password:           pw,
		TLSPolicy:          *tlsPolicy,
		ServerName:         *serverName,
		InsecureSkipVerify: *insecure,
	}
	processed, err := conf.Process(common.RealWorldState)
	if err != nil {
		log.Fatal(err)
	}

	c, err := client.Dial(processed, &net.Dialer{Timeout: processed.DialTimeout})
	if err != nil {
		log.Fatalf("connecting to agent: %v", err)
	}
	defer c.Close()
	if !c.Encrypted() {
		log.Warn("session is not encrypted")
	}

	frame, err := c.Call(req)
	if err != nil {
		log.Fatalf("%v request failed: %v", reqType, err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, frame.Raw(), "", "  "); err != nil {
		log.Fatal(err)
	}
	fmt.Println(pretty.String())
}
