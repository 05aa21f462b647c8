package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/basho-labs/riak-mesos-metacoord/wire"
)

var (
	serverAddr string
	cmd        string
	nodeIP     string
	nodePort   int
	epoch      int64
	partitions int
	client     *CoordinatorClient
)

func init() {
	flag.StringVar(&serverAddr, "server", "127.0.0.1:9200", "Coordinator command endpoint")
	flag.StringVar(&cmd, "command", "pull", "join, ping, pull, init")
	flag.StringVar(&nodeIP, "ip", "", "Data node IP for join/ping")
	flag.IntVar(&nodePort, "port", 0, "Data node port for join/ping")
	flag.Int64Var(&epoch, "epoch", 0, "Last-known epoch for ping")
	flag.IntVar(&partitions, "num", 0, "Partition count for init")
	flag.Parse()

	if cmd == "" {
		fmt.Println("Please specify command")
		os.Exit(1)
	}
	log.SetLevel(log.DebugLevel)
}

func main() {
	client = NewCoordinatorClient(serverAddr)

	switch cmd {
	case "join":
		respond(client.Join(nodeIP, nodePort))
	case "ping":
		respond(client.Ping(nodeIP, nodePort, epoch))
	case "pull":
		resp, err := client.Pull()
		if err != nil {
			log.Fatal(err)
		}
		out, err := json.MarshalIndent(resp.Table, "", "  ")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(out))
	case "init":
		respond(client.Init(uint32(partitions)))
	default:
		log.Fatal("Unknown command")
	}
}

func respond(resp wire.Response, err error) {
	if err != nil {
		fmt.Println(err)
		return
	}
	switch resp.Code {
	case wire.CodeOK:
		fmt.Printf("ok epoch=%d hint=%d\n", resp.Epoch, resp.Hint)
	case wire.CodeNotLeader:
		fmt.Printf("not leader, try %s\n", resp.LeaderHint)
	case wire.CodeInvalid:
		fmt.Println("invalid request")
	default:
		fmt.Println("internal error")
	}
}
