package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/keygen"
	"go.dedis.ch/keygen/cli/node"
	"go.dedis.ch/keygen/generator/roundstore"
	"go.dedis.ch/keygen/mino/proxy"
	proxyhttp "go.dedis.ch/keygen/mino/proxy/http"
	"golang.org/x/xerrors"
)

var defaultRetry = 10
var retryDelay = time.Second
var proxyFac func(string) proxy.Proxy = func(addr string) proxy.Proxy {
	return proxyhttp.NewHTTP(addr)
}

type startAction struct{}

// Execute implements node.ActionTemplate. It starts and injects the proxy http
// server.
func (a startAction) Execute(ctx node.Context) error {
	addr := ctx.Flags.String("clientaddr")

	srv := proxyFac(addr)

	go srv.Listen()

	for i := 0; i < defaultRetry && srv.GetAddr() == nil; i++ {
		time.Sleep(retryDelay)
	}

	if srv.GetAddr() == nil {
		return xerrors.Errorf("failed to start proxy server")
	}

	ctx.Injector.Inject(srv)

	fmt.Fprintf(ctx.Out, "started proxy server on %s", srv.GetAddr().String())

	return nil
}

type promAction struct{}

// Execute implements node.ActionTemplate. It registers the Prometheus handler.
func (a promAction) Execute(ctx node.Context) error {
	var srv proxy.Proxy

	err := ctx.Injector.Resolve(&srv)
	if err != nil {
		return xerrors.Errorf("failed to resolve the proxy: %v", err)
	}

	path := ctx.Flags.String("path")

	for _, c := range keygen.PromCollectors {
		err = prometheus.DefaultRegisterer.Register(c)
		if err != nil {
			fmt.Fprintf(ctx.Out, "ERROR: failed to register: %v", err)
		}
	}

	srv.RegisterHandler(path, promhttp.Handler().ServeHTTP)
	fmt.Fprintf(ctx.Out, "registered prometheus service on %q", path)

	return nil
}

type roundsAction struct{}

// Execute implements node.ActionTemplate. It registers the handler that looks
// up the rounds of the store.
func (a roundsAction) Execute(ctx node.Context) error {
	var srv proxy.Proxy

	err := ctx.Injector.Resolve(&srv)
	if err != nil {
		return xerrors.Errorf("failed to resolve the proxy: %v", err)
	}

	var store *roundstore.Store

	err = ctx.Injector.Resolve(&store)
	if err != nil {
		return xerrors.Errorf("failed to resolve the store: %v", err)
	}

	path := ctx.Flags.String("path")

	srv.RegisterHandler(path, roundHandler{prefix: path, store: store}.ServeHTTP)
	fmt.Fprintf(ctx.Out, "registered rounds service on %q", path)

	return nil
}

// RoundJSON is the reply of the round lookup.
type RoundJSON struct {
	Round         uint64   `json:"round"`
	Open          bool     `json:"open"`
	Empty         bool     `json:"empty"`
	Contributors  []string `json:"contributors"`
	EncryptionKey string   `json:"encryption_key,omitempty"`
	DecryptionKey bool     `json:"decryption_key"`
}

// roundHandler serves the summary of the round whose id follows the prefix of
// the path.
//
// - implements http.Handler
type roundHandler struct {
	prefix string
	store  *roundstore.Store
}

// ServeHTTP implements http.Handler.
func (h roundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is allowed", http.StatusMethodNotAllowed)
		return
	}

	round, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, h.prefix), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid round id: %v", err), http.StatusBadRequest)
		return
	}

	info, err := h.store.GetRoundInfo(round)
	if xerrors.Is(err, roundstore.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read round: %v", err), http.StatusInternalServerError)
		return
	}

	reply := RoundJSON{
		Round:         info.Round,
		Open:          info.Open,
		Empty:         info.Empty,
		Contributors:  info.Contributors,
		DecryptionKey: info.DecryptionKey != nil,
	}

	if info.AggregatedKey != nil {
		reply.EncryptionKey = info.AggregatedKey.EncryptionKey().String()
	}

	w.Header().Set("Content-Type", "application/json")

	err = json.NewEncoder(w).Encode(reply)
	if err != nil {
		keygen.Logger.Warn().Err(err).Msg("failed to write round")
	}
}
