package exchange

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/gorilla/mux"
)

const timeout = 15

// Init sets up and starts the http/https server servicing the JSON-RPC API for the exchange service. If
// sslPort, sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
// rps and burst configure per-client-IP rate limiting; zero disables it.
func (e *Exchange) Init(endpoint, port, sslPort, sslCert, sslKey string, rps float64, burst int) string {
	var err, errTLS error

	errc := make(chan error, 1)
	errcTLS := make(chan error, 1)

	// API definition: one JSON-RPC endpoint, methods account_balance, transfer_balance, transfer_status
	br := jhttp.NewBridge(e.methods(), &jhttp.BridgeOptions{Server: &jrpc2.ServerOptions{}})
	e.br = &br
	e.lim = newIPLimiter(rps, burst)

	r := mux.NewRouter()
	r.HandleFunc("/", e.homeHandler).Methods("GET")
	r.Handle("/", e.lim.middleware(e.br)).Methods("POST")

	// setup shutdown channel
	e.sc = make(chan struct{})

	// start http server
	if port != "" {
		e.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errc <- e.s.ListenAndServe()
		}()

		log.Printf("Listening to JSON-RPC http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		e.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errcTLS <- e.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to JSON-RPC https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-e.sc

	if e.s != nil {
		err = <-errc
	}

	if e.ss != nil {
		errTLS = <-errcTLS
	}

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}

func (e *Exchange) homeHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "Hello, this is your exchange service!")
}
