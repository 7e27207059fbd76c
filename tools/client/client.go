// Command client reports an agent heartbeat to a crucible node, for
// exercising a deployment by hand:
//
//	go run ./tools/client web-01 /nix/store/...-nixos-system-web-01
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/caesium-cloud/crucible/internal/ingest"
	"github.com/caesium-cloud/crucible/pkg/client"
	"github.com/caesium-cloud/crucible/pkg/env"
)

func init() {
	if err := env.Process(); err != nil {
		panic(err)
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: client <hostname> [current-output]")
		os.Exit(2)
	}

	report := ingest.AgentReport{SystemName: os.Args[1]}
	if len(os.Args) > 2 {
		report.CurrentOutput = os.Args[2]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := client.New(fmt.Sprintf("http://localhost:%v", env.Variables().Port), nil)
	if err := c.AgentHeartbeat(ctx, os.Args[1], report); err != nil {
		panic(err)
	}

	fmt.Println("heartbeat recorded")
}
