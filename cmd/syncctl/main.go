// Command syncctl is a minimal example binary demonstrating the repo
// façade: it wires two in-process peers together, has each append local
// text to a shared document, waits for them to discover each other, and
// prints the converged value. It is not a general-purpose CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"go.gazette.dev/sync/adapter"
	"go.gazette.dev/sync/adapter/inproc"
	"go.gazette.dev/sync/crdt"
	"go.gazette.dev/sync/ids"
	"go.gazette.dev/sync/internal/config"
	"go.gazette.dev/sync/repo"
	"go.gazette.dev/sync/rules"
	"go.gazette.dev/sync/syncer"
)

var opts = new(struct {
	Doc        string        `long:"doc" default:"demo" description:"Document id shared by both peers."`
	ServerText string        `long:"server-text" default:"hello " description:"Text the server peer appends."`
	ClientText string        `long:"client-text" default:"world" description:"Text the client peer appends."`
	Timeout    time.Duration `long:"timeout" default:"5s" description:"How long to wait for the peers to discover each other."`
})

func main() {
	if _, err := flags.Parse(opts); err != nil {
		os.Exit(1)
	}

	var a, b = inproc.New(), inproc.New()
	inproc.Pair(a, b)

	var server = mustRepo("1", a)
	defer server.Disconnect(context.Background())
	var client = mustRepo("2", b)
	defer client.Disconnect(context.Background())

	if _, err := a.Connect(); err != nil {
		log.WithFields(log.Fields{"err": err}).Fatal("syncctl: connect")
	}

	var docID = ids.DocID(opts.Doc)
	var serverHandle = server.Get(docID)
	var clientHandle = client.Get(docID)

	serverHandle.OnReadyStateChange(func(states []syncer.ReadyState) {
		log.WithFields(log.Fields{"peer": "server", "states": states}).Info("ready state changed")
	})
	clientHandle.OnReadyStateChange(func(states []syncer.ReadyState) {
		log.WithFields(log.Fields{"peer": "client", "states": states}).Info("ready state changed")
	})

	serverHandle.Change(func(doc crdt.Doc) { doc.(*crdt.Text).Append(opts.ServerText) })
	clientHandle.Change(func(doc crdt.Doc) { doc.(*crdt.Text).Append(opts.ClientText) })

	var ctx, cancel = context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	var hasPeer = func(states []syncer.ReadyState) bool {
		for _, s := range states {
			if s.PeerID != "" && s.Kind != syncer.Absent {
				return true
			}
		}
		return false
	}
	if err := clientHandle.WaitUntilReady(ctx, hasPeer); err != nil {
		log.WithFields(log.Fields{"err": err}).Fatal("syncctl: wait for peer")
	}
	if err := serverHandle.WaitUntilReady(ctx, hasPeer); err != nil {
		log.WithFields(log.Fields{"err": err}).Fatal("syncctl: wait for peer")
	}

	// Give the final round of sync-request/sync-response a moment to land
	// after the peer entries above appeared.
	time.Sleep(200 * time.Millisecond)

	var value string
	serverHandle.Change(func(doc crdt.Doc) { value = doc.(*crdt.Text).Value() })
	fmt.Println(value)
}

func mustRepo(peerID string, a adapter.Adapter) *repo.Repo {
	var cfg = config.Default()
	cfg.HeartbeatInterval = 0

	var r, err = repo.New(repo.Config{
		Identity: syncer.Identity{PeerID: ids.PeerID(peerID), Name: "syncctl-" + peerID, Type: "syncctl"},
		Adapters: []adapter.Adapter{a},
		Rules:    rules.Default(),
		Config:   cfg,
		NewDoc:   func(ids.DocID) crdt.Doc { return crdt.NewText(peerID) },
	})
	if err != nil {
		log.WithFields(log.Fields{"err": err, "peerId": peerID}).Fatal("syncctl: repo.New")
	}
	return r
}
