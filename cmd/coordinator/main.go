// Command coordinator runs one peer of the metadata coordinator ensemble:
// it campaigns for leadership, serves the framed command protocol on the
// derived command port, runs the update worker, runs the liveness sweeper
// while leader, and exposes a read-only HTTP status surface.
package main

import (
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/basho-labs/riak-mesos-metacoord/consensus"
	"github.com/basho-labs/riak-mesos-metacoord/dispatcher"
	"github.com/basho-labs/riak-mesos-metacoord/httpstatus"
	"github.com/basho-labs/riak-mesos-metacoord/leaderctl"
	"github.com/basho-labs/riak-mesos-metacoord/liveness"
	"github.com/basho-labs/riak-mesos-metacoord/record"
	"github.com/basho-labs/riak-mesos-metacoord/topology"
	"github.com/basho-labs/riak-mesos-metacoord/wire"
	"github.com/basho-labs/riak-mesos-metacoord/worker"
)

var (
	localIP     string
	localPort   int
	seedIP      string
	seedPort    int
	dataPath    string
	logPath     string
	daemonize   bool
	pidFile     string
	httpPort    int
	nodeTimeout int
	fyShift     int
	cmdShift    int
)

func init() {
	flag.StringVar(&localIP, "local_ip", "127.0.0.1", "This peer's advertised IP")
	flag.IntVar(&localPort, "local_port", 9000, "This peer's base port; consensus and command ports are derived from it")
	flag.StringVar(&seedIP, "seed_ip", "127.0.0.1", "Seed ZooKeeper ensemble member IP")
	flag.IntVar(&seedPort, "seed_port", 2181, "Seed ZooKeeper ensemble member port")
	flag.StringVar(&dataPath, "data_path", "", "Unused by the ZooKeeper-backed consensus store; kept for CLI compatibility")
	flag.StringVar(&logPath, "log_path", "", "Log file location; empty logs to stderr")
	flag.BoolVar(&daemonize, "daemonize", false, "Out of scope: process daemonization is not implemented")
	flag.StringVar(&pidFile, "pid_file", "", "If set, this peer's pid is written here on startup")
	flag.IntVar(&httpPort, "http_port", 8080, "Port for the read-only status HTTP surface")
	flag.IntVar(&nodeTimeout, "node_timeout", 9, "Seconds of missed heartbeats before a node is marked DOWN")
	flag.IntVar(&fyShift, "fy_shift", leaderctl.DefaultPorts.FYShift, "Offset from local_port for the consensus/election listener")
	flag.IntVar(&cmdShift, "cmd_shift", leaderctl.DefaultPorts.CmdShift, "Offset from local_port for the command/redirect listener")
	flag.Parse()
}

func main() {
	if logPath != "" {
		fo, err := os.Create(logPath)
		if err != nil {
			log.Fatal(err)
		}
		log.SetOutput(fo)
	}
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			log.WithError(err).Warn("coordinator: failed to write pid file")
		}
	}
	if daemonize {
		log.Warn("coordinator: -daemonize is out of scope and was ignored")
	}

	ports := leaderctl.Ports{FYShift: fyShift, CmdShift: cmdShift}
	self := ports.LocalCommandEndpoint(localIP, localPort)

	store, err := consensus.NewStore([]string{seedIP + ":" + strconv.Itoa(seedPort)})
	if err != nil {
		log.WithError(err).Fatal("coordinator: failed to reach consensus ensemble")
	}
	defer store.Close()

	machine := topology.NewMachine(store, 0)
	tracker := liveness.NewTracker()
	upd := worker.New(machine, 256)
	lifecycle := leaderctl.New(store, ports, localIP, localPort, machine, tracker)
	if err := lifecycle.Campaign(); err != nil {
		log.WithError(err).Fatal("coordinator: failed to campaign for leadership")
	}
	disp := dispatcher.New(machine, tracker, upd, lifecycle)

	stop := make(chan struct{})

	go upd.Run(stop)
	go pollLeader(lifecycle, stop)
	go sweepLiveness(tracker, upd, lifecycle, stop)

	listener, err := net.Listen("tcp", ports.LocalCommandEndpoint(localIP, localPort))
	if err != nil {
		log.WithError(err).Fatal("coordinator: failed to bind command listener")
	}
	go acceptCommands(listener, disp, stop)

	status := httpstatus.New(store, machine, lifecycle)
	httpListener, err := net.Listen("tcp", localIP+":"+strconv.Itoa(httpPort))
	if err != nil {
		log.WithError(err).Fatal("coordinator: failed to bind status listener")
	}
	go http.Serve(httpListener, status.Handler())

	log.WithFields(log.Fields{"self": self, "http_port": httpPort}).Info("coordinator: running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("coordinator: shutting down")
	close(stop)
	listener.Close()
	httpListener.Close()
	if err := lifecycle.Resign(); err != nil {
		log.WithError(err).Warn("coordinator: error resigning candidacy")
	}
}

// pollLeader refreshes this peer's view of leadership every tick.
func pollLeader(lifecycle *leaderctl.Lifecycle, stop <-chan struct{}) {
	ticker := time.Tick(time.Second)
	for {
		select {
		case <-stop:
			return
		case <-ticker:
			if err := lifecycle.Poll(); err != nil {
				log.WithError(err).Warn("coordinator: leader poll failed")
			}
		}
	}
}

// sweepLiveness runs the liveness sweeper every tick while this peer is
// leader, enqueuing a REMOVE task on the update worker for every endpoint
// whose heartbeat has expired. Sweeping itself never blocks on I/O; only
// the subsequent OffNode, run later by the update worker, does.
func sweepLiveness(tracker *liveness.Tracker, upd *worker.Worker, lifecycle *leaderctl.Lifecycle, stop <-chan struct{}) {
	ticker := time.Tick(time.Second)
	timeout := time.Duration(nodeTimeout) * time.Second
	for {
		select {
		case <-stop:
			return
		case <-ticker:
			if lifecycle.State() != leaderctl.StateLeader {
				continue
			}
			for _, op := range tracker.Sweep(time.Now(), timeout) {
				node := endpointToNode(op.Endpoint)
				log.WithField("endpoint", op.Endpoint).Info("coordinator: liveness expired")
				upd.Enqueue(worker.Task{IP: node.IP, Port: node.Port, Op: worker.OpRemove})
			}
		}
	}
}

func endpointToNode(endpoint string) record.Node {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return record.Node{}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return record.Node{}
	}
	return record.Node{IP: host, Port: port}
}

// acceptCommands serves the framed binary protocol: one goroutine per
// connection, reading frames until the peer disconnects or a frame fails
// to read, decode or write. stop ends the accept loop only; connections
// already being served do not watch it.
func acceptCommands(listener net.Listener, disp *dispatcher.Dispatcher, stop <-chan struct{}) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
				log.WithError(err).Warn("coordinator: accept failed")
				continue
			}
		}
		go serveConn(conn, disp)
	}
}

func serveConn(conn net.Conn, disp *dispatcher.Dispatcher) {
	defer conn.Close()
	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		req, err := wire.DecodeRequest(payload)
		if err != nil {
			log.WithError(err).Warn("coordinator: malformed request frame")
			return
		}
		resp := disp.Dispatch(req)
		if err := wire.WriteFrame(conn, wire.EncodeResponse(resp)); err != nil {
			return
		}
	}
}
