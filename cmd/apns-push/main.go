// apns-push sends notifications to the push gateway.
//
// One-shot: apns-push -config=push.hcl -token=c0ffee.. -payload='{"aps":{}}'
// Spool daemon: apns-push -config=push.hcl -daemon
// where the config sets spool_path; notifications spooled by other processes
// (or a previous run) are drained until the process is signalled.
package main

import (
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"

	"github.com/pushgate/apns/apns"
	"github.com/pushgate/apns/log2"
)

func main() {
	flagConfig := flag.String("config", "apns.hcl", "HCL config file")
	flagToken := flag.String("token", "", "device token, hex")
	flagPayload := flag.String("payload", "", "serialized payload, max 255 bytes")
	flagExpiry := flag.Duration("expiry", 24*time.Hour, "store-and-forward window, 0 to not store")
	flagDaemon := flag.Bool("daemon", false, "drain the configured spool until signalled")
	flag.Parse()

	const logFlagsService = log.Lshortfile
	const logFlagsInteractive = log.Lshortfile | log.Ltime | log.Lmicroseconds
	if sdnotify("start") {
		// under systemd, journal provides timestamps
		log.SetFlags(logFlagsService)
	} else {
		log.SetFlags(logFlagsInteractive)
	}

	cfg, err := apns.ReadConfigFile(*flagConfig)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	cfg.Log = log2.NewStderr(log2.LInfo)
	cfg.OnReject = func(status byte, n *apns.Notification) {
		if n == nil {
			log.Printf("gateway rejected an evicted notification status=%d(%s)", status, apns.StatusName(status))
			return
		}
		log.Printf("gateway rejected n=%s status=%d(%s)", n, status, apns.StatusName(status))
	}

	client, err := apns.NewClient(*cfg)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	if *flagDaemon {
		if cfg.SpoolPath == "" {
			log.Fatal("daemon mode needs spool_path in config")
		}
		sdnotify(daemon.SdNotifyReady)
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigch
		log.Printf("signal=%v stopping", sig)
		sdnotify(daemon.SdNotifyStopping)
		_ = client.Close()
		log.Printf("stat=%s", client.Stat())
		return
	}

	token, err := hex.DecodeString(*flagToken)
	if err != nil {
		log.Fatal(errors.Annotate(err, "-token").Error())
	}
	var expiry uint32
	if *flagExpiry > 0 {
		expiry = uint32(time.Now().Add(*flagExpiry).Unix())
	}
	n := &apns.Notification{
		Token:   token,
		Payload: []byte(*flagPayload),
		Expiry:  expiry,
	}
	f, err := client.Send(n)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	select {
	case <-f.Completed():
		log.Printf("sent n=%s", n)
	case <-f.Cancelled():
		log.Fatalf("send failed: %v", f.Result())
	case <-time.After(time.Minute):
		log.Fatal("send timeout")
	}
	// linger briefly for an asynchronous gateway error report
	time.Sleep(2 * time.Second)
	_ = client.Close()
	log.Printf("stat=%s", client.Stat())
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
