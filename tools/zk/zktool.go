package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samuel/go-zookeeper/zk"

	"github.com/basho-labs/riak-mesos-metacoord/record"
)

var (
	zookeeperAddr string
	cmd           string
	key           string
)

const kvPath = "/metacoord/kv"

func init() {
	flag.StringVar(&zookeeperAddr, "zk", "127.0.0.1:2181", "Zookeeper")
	flag.StringVar(&key, "key", "", "Coordinator key (ND, MT, PN, PART:<id>)")
	flag.StringVar(&cmd, "command", "zk-list-keys",
		"zk-list-keys, zk-get-data, zk-delete-all")
	flag.Parse()

	if cmd == "" {
		fmt.Println("Please specify command")
		os.Exit(1)
	}
}

func main() {
	switch cmd {
	case "zk-list-keys":
		respondList(zkListKeys())
	case "zk-get-data":
		respond(zkGetData())
	case "zk-delete-all":
		zkDeleteAll()
		fmt.Println("ok")
	default:
		fmt.Println("Unknown command")
	}
}

func respondList(val []string) {
	fmt.Println(val)
}

func respond(val string) {
	fmt.Println(val)
}

func connect() *zk.Conn {
	conn, _, err := zk.Connect([]string{zookeeperAddr}, time.Second)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return conn
}

func zkListKeys() []string {
	conn := connect()
	children, _, err := conn.Children(kvPath)
	if err != nil {
		fmt.Println(err)
	}
	return children
}

// zkGetData fetches and pretty-prints one coordinator key, decoding the
// record types it knows about instead of dumping raw bytes.
func zkGetData() string {
	conn := connect()
	data, _, err := conn.Get(kvPath + "/" + key)
	if err != nil {
		fmt.Println(err)
		return ""
	}
	switch {
	case key == record.KeyNodes:
		nodes, err := record.DecodeNodes(data)
		if err != nil {
			return fmt.Sprintf("undecodable ND: %v", err)
		}
		var lines []string
		for _, e := range nodes.Entries {
			status := "UP"
			if e.Status == record.StatusDown {
				status = "DOWN"
			}
			lines = append(lines, e.Node.Endpoint()+" "+status)
		}
		return strings.Join(lines, "\n")
	case key == record.KeyPartitionsTable:
		table, err := record.DecodePartitionsTable(data)
		if err != nil {
			return fmt.Sprintf("undecodable MT: %v", err)
		}
		lines := []string{fmt.Sprintf("version %d", table.Version)}
		for _, p := range table.Info {
			var slaves []string
			for _, s := range p.Slaves {
				slaves = append(slaves, s.Endpoint())
			}
			lines = append(lines, fmt.Sprintf("partition %d master=%s slaves=%s",
				p.ID, p.Master.Endpoint(), strings.Join(slaves, ",")))
		}
		return strings.Join(lines, "\n")
	case strings.HasPrefix(key, "PART:"):
		rs, err := record.DecodeReplicaset(data)
		if err != nil {
			return fmt.Sprintf("undecodable replicaset: %v", err)
		}
		var nodes []string
		for _, n := range rs.Nodes {
			nodes = append(nodes, n.Endpoint())
		}
		return fmt.Sprintf("replicaset %d: %s", rs.ID, strings.Join(nodes, ","))
	default:
		return string(data)
	}
}

// zkDeleteAll wipes the coordinator's whole namespace, for resetting a
// test cluster.
func zkDeleteAll() {
	conn := connect()
	zkDeleteChildren(conn, "/metacoord")
}

func zkDeleteChildren(conn *zk.Conn, path string) {
	children, _, _ := conn.Children(path)

	// Leaf
	if len(children) == 0 {
		fmt.Println("Deleting ", path)
		err := conn.Delete(path, -1)
		if err != nil {
			fmt.Println(err)
		}
		return
	}

	// Branches
	for _, name := range children {
		zkDeleteChildren(conn, path+"/"+name)
	}

	conn.Delete(path, -1)
}
