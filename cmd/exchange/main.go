// Package main: exchange service.
//
// A long-running JSON-RPC server that resolves caller-supplied key material, queries balances and
// submits nonce-sequenced transfers to a chain node. The journal database records every submitted
// transfer; a background watcher tracks the outcome of pending ones.
package main

import (
	"encoding/hex"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarancss/exch/exchange"
	"github.com/tarancss/exch/lib/chain/node"
	"github.com/tarancss/exch/lib/config"
	"github.com/tarancss/exch/lib/keyring"
	"github.com/tarancss/exch/lib/msg"
	"github.com/tarancss/exch/lib/msg/amqp"
	"github.com/tarancss/exch/lib/store"
	"github.com/tarancss/exch/lib/store/db"
)

// watchInterval is how often the watcher polls the node for pending transfer outcomes.
const watchInterval = 5 * time.Second

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json or yaml file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// connect to journal database
	var dbConn store.DB

	if conf.DBConn != "" {
		if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
			panic(err)
		}

		log.Printf("Connecting to database:%+v\n", conf.DBConn)
	}

	// connect to the chain node
	bc, err := node.Init(conf.Node)
	if err != nil {
		panic(err)
	}

	log.Print("Chain node client loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	default:
		log.Printf("No message broker configured: %s\n", conf.MbType)
	}

	// load keyring
	seed, err := hex.DecodeString(conf.Seed)
	if err != nil {
		panic(err)
	}

	kr, err := keyring.New(byte(conf.Prefix), seed)
	if err != nil {
		panic(err)
	}

	// create exchange service
	e := exchange.New(conf.DBType, dbConn, mb, bc, kr)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		e.Stop()
		close(finish)
	}()

	// track pending transfer outcomes
	e.WatchTransfers(watchInterval)

	// init JSON-RPC API, wait for its return and log response
	log.Printf("Exchange: %s\n", e.Init(conf.Endpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey,
		conf.RateRPS, conf.RateBurst))

	<-finish
}
