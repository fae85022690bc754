// Command mcosdemo wires a Container with in-memory collaborators and runs
// a short scripted conversation through it, to exercise the write path
// (RecordTurn) and read path (AssembleContext) end to end without needing
// real credentials for any external system.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fernbank/mcos/internal/mcos"
	"github.com/fernbank/mcos/internal/mcos/fakes"
	"github.com/fernbank/mcos/internal/platform/cronjanitor"
	"github.com/fernbank/mcos/internal/platform/logger"
	"github.com/fernbank/mcos/internal/platform/otelsetup"
)

func main() {
	log, err := logger.New(os.Getenv("MCOS_LOG_MODE"))
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := mcos.LoadConfig(os.Getenv("MCOS_CONFIG_PATH"), log)

	bgCtx := context.Background()
	meterProvider, err := otelsetup.NewMeterProvider(bgCtx, "mcos-demo")
	if err != nil {
		log.Fatal("failed to build meter provider", "error", err)
	}

	collab := mcos.Collaborators{
		Model:    &fakes.ModelAdapter{},
		Vector:   &fakes.VectorStore{},
		Profiles: fakes.NewProfileDocStore(),
		Objects:  fakes.NewObjectStore(),
		Meter:    otelsetup.Meter(meterProvider),
	}

	container, err := mcos.New(cfg, log, collab)
	if err != nil {
		log.Fatal("failed to build container", "error", err)
	}

	janitor, err := cronjanitor.New(log, container.Sessions, "@every 1m")
	if err != nil {
		log.Fatal("failed to build janitor", "error", err)
	}
	janitor.Start()
	defer janitor.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	container.Start(ctx)
	defer container.Close()

	userID, chatID := "demo-user", "demo-chat"
	script := []string{
		"Hi, I'm starting a new project about building treehouses.",
		"I really enjoy woodworking and carpentry as a hobby.",
		"Remember that I mentioned treehouses earlier?",
	}

	for i, content := range script {
		bundle, err := container.AssembleContext(ctx, mcos.AssembleRequest{
			UserID:        userID,
			ChatID:        chatID,
			QueryText:     content,
			RecallTrigger: i == len(script)-1,
		})
		if err != nil {
			log.Error("AssembleContext failed", "error", err)
			continue
		}
		log.Info("assembled context",
			"turn", i,
			"recentTurns", len(bundle.RecentTurns),
			"retrievedChunks", len(bundle.RetrievedChunks),
			"tokensUsed", bundle.TokensUsed,
			"retrievalReason", bundle.RetrievalReason,
			"partial", bundle.Partial,
		)

		assistantText := fmt.Sprintf("noted: %s", content)
		if _, err := container.RecordTurn(ctx, userID, chatID, content, assistantText, nil); err != nil {
			log.Error("RecordTurn failed", "error", err)
			continue
		}
	}

	if err := container.Orchestrator.EndChat(ctx, userID, chatID, false); err != nil {
		log.Error("EndChat failed", "error", err)
	}

	time.Sleep(200 * time.Millisecond)
	fmt.Println("mcosdemo: scripted conversation complete")
}
