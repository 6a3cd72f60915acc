// barrierctl drives a single barrier rendezvous over a real TCP
// connection, one process per contributor. It's the thinnest possible
// harness over pkg/netcluster: one node hosts the master replica and
// listens, every other node joins by dialing it.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/fatih/color"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jabolina/netcluster/pkg/netcluster/barrier"
	"github.com/jabolina/netcluster/pkg/netcluster/core"
	"github.com/jabolina/netcluster/pkg/netcluster/definition"
	"github.com/jabolina/netcluster/pkg/netcluster/types"
	"github.com/jabolina/netcluster/pkg/netcluster/wire"
)

var (
	app = kingpin.New("barrierctl", "Run one contributor in a barrier rendezvous.")

	masterCmd     = app.Command("master", "Host the master replica and wait for contributors.")
	masterListen  = masterCmd.Flag("listen", "Address to accept contributor connections on.").Default(":7420").String()
	masterHeight  = masterCmd.Flag("height", "Total number of contributors, master included.").Default("1").Uint32()
	masterVerbose = masterCmd.Flag("debug", "Enable debug logging.").Bool()

	joinCmd     = app.Command("join", "Join a barrier hosted by --connect.")
	joinConnect = joinCmd.Flag("connect", "Master's listen address.").Required().String()
	joinVerbose = joinCmd.Flag("debug", "Enable debug logging.").Bool()
)

func main() {
	app.Version("0.1.0")
	command, err := app.Parse(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("%s, try --help", err)
	}

	var runErr error
	switch command {
	case masterCmd.FullCommand():
		runErr = runMaster(*masterListen, *masterHeight, *masterVerbose)
	case joinCmd.FullCommand():
		runErr = runJoin(*joinConnect, *joinVerbose)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgHiRed).Sprintf("barrierctl: %v", runErr))
		os.Exit(1)
	}
}

func newConfiguration(name string, debug bool) types.Configuration {
	cfg := types.DefaultConfiguration(name)
	log := definition.NewLogrusLogger(name)
	log.ToggleDebug(debug)
	cfg.Logger = log
	return cfg
}

func runMaster(listen string, height uint32, debug bool) error {
	cfg := newConfiguration("barrierctl-master", debug)
	log := cfg.Logger
	nodeID := types.NewNodeID()
	session := core.NewLocalSession(1, nodeID, log)
	go session.Run()
	defer session.Stop()

	master := barrier.NewMasterBarrier(session.LocalNode(), height)
	objectID := session.RegisterObject(master)

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	defer listener.Close()

	green := color.New(color.FgHiGreen).SprintFunc()
	fmt.Printf("master listening on %s, object %d, height %d\n", listener.Addr(), objectID, height)

	remaining := int(height) - 1
	for i := 0; i < remaining; i++ {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		tconn := core.NewTCPConnection(conn, log)
		peer := core.NewRemoteNode(types.NodeIDZero, tconn)
		session.Listen(tconn, peer)

		if err := session.AnnounceSelf(peer); err != nil {
			return err
		}
		if err := session.AnnounceObject(peer, objectID, height, nodeID); err != nil {
			return err
		}
		fmt.Printf("contributor %d/%d connected from %s\n", i+1, remaining, conn.RemoteAddr())
	}

	fmt.Println("entering barrier as master...")
	if err := master.Enter(); err != nil {
		return err
	}
	fmt.Println(green("barrier released"))
	return nil
}

func runJoin(connect string, debug bool) error {
	cfg := newConfiguration("barrierctl-join", debug)
	log := cfg.Logger
	session := core.NewLocalSession(1, types.NewNodeID(), log)
	go session.Run()
	defer session.Stop()

	conn, err := net.Dial("tcp", connect)
	if err != nil {
		return err
	}
	tconn := core.NewTCPConnection(conn, log)
	master := core.NewRemoteNode(types.NodeIDZero, tconn)
	session.Listen(tconn, master)
	if err := session.AnnounceSelf(master); err != nil {
		return err
	}

	announcement := <-session.Announcements()
	replica := barrier.NewSlaveBarrier()
	replica.ApplyInstanceData(wire.BarrierInstanceData{
		Height:   announcement.Height,
		MasterID: [16]byte(announcement.MasterID),
	})
	session.MapObject(announcement.ObjectID, replica)

	green := color.New(color.FgHiGreen).SprintFunc()
	fmt.Println("entering barrier as contributor...")
	if err := replica.Enter(); err != nil {
		return err
	}
	fmt.Println(green("barrier released"))
	return nil
}
