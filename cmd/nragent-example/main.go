// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Command nragent-example demonstrates wrapping an OpenWhisk-style action
// main with nragent.Instrument: construct the Agent, wrap main, invoke the
// wrapped main the way the platform's runner would. Not part of the
// library's public contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	nragent "github.com/newrelic/openwhisk-activation-metrics"
	"github.com/newrelic/openwhisk-activation-metrics/pkg/log"
)

var (
	ingestURL string
	apiKey    string
	verbose   bool
)

func init() {
	flag.StringVar(&ingestURL, "url", os.Getenv("NEW_RELIC_INSIGHTS_INSERT_URL"), "ingest endpoint URL")
	flag.StringVar(&apiKey, "apikey", os.Getenv("NEW_RELIC_INSIGHTS_INSERT_KEY"), "ingest API key")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
}

func action(ctx context.Context) error {
	// The request carries ctx so the probe can find the Agent bound to it.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.com", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fmt.Println("fetched example.com:", resp.StatusCode)
	return nil
}

func main() {
	flag.Parse()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	agent := nragent.NewAgent(nragent.Options{URL: ingestURL, APIKey: apiKey}, nil)
	wrapped := nragent.Instrument(agent, action)

	if err := wrapped(context.Background()); err != nil {
		log.WithComponent("nragent-example").WithError(err).Error("action failed")
		os.Exit(1)
	}
	agent.ActivationFinished()
}
