package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"multimodal-rag/internal/blob"
	"multimodal-rag/internal/chunker"
	"multimodal-rag/internal/config"
	"multimodal-rag/internal/db"
	"multimodal-rag/internal/embedding"
	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/ingest"
	"multimodal-rag/internal/linker"
	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/parser"
	"multimodal-rag/internal/rag"
	"multimodal-rag/internal/transcribe"
	"multimodal-rag/internal/vectorindex"
)

const configFilePath = "./configs/config.yaml"

type app struct {
	cfg      *config.Config
	store    *db.BunStore
	blobs    blob.Store
	indices  *vectorindex.Manager
	pipeline *ingest.Pipeline
	engine   *rag.Engine
	linker   *linker.Linker
}

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Upload and ingest a file")
	query := flag.String("query", "", "Question to be answered")
	search := flag.String("search", "", "Search without generating an answer")
	hybrid := flag.Bool("hybrid", false, "Expand the search query before searching")
	modalities := flag.String("modalities", "text,image,audio", "Comma separated modalities to search")
	topK := flag.Int("top-k", 0, "Results per modality (default from config)")
	deleteID := flag.Int64("delete", 0, "Delete a document by id")
	list := flag.Bool("list", false, "List documents")
	modality := flag.String("modality", "", "Modality filter for -list, source modality for -related")
	chunks := flag.Int64("chunks", 0, "List the chunks of a document")
	related := flag.Int64("related", 0, "Show records related to a source record")
	timeline := flag.Int64("timeline", 0, "Show audio segments around a segment")
	window := flag.Float64("window", 0, "Time window in seconds for -timeline (default from config)")
	suggest := flag.Int64("suggest", 0, "Suggest questions about a document")
	reindex := flag.String("reindex", "", "Rebuild the index of a modality from the record store")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogging(&cfg.Log)
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing")
	}
	defer a.store.Close()

	k := *topK
	if k <= 0 {
		k = cfg.RAG.TopK
	}
	mods, err := models.ParseModalities(*modalities)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -modalities")
	}

	switch {
	case *filePath != "":
		err = a.ingestFile(ctx, *filePath)
	case *query != "":
		err = a.ask(ctx, *query, k, mods)
	case *search != "":
		err = a.search(ctx, *search, k, mods, *hybrid)
	case *deleteID != 0:
		err = a.pipeline.Delete(ctx, *deleteID)
	case *list:
		err = a.listDocuments(ctx, *modality)
	case *chunks != 0:
		err = a.listChunks(ctx, *chunks)
	case *related != 0:
		err = a.related(ctx, *related, *modality)
	case *timeline != 0:
		w := *window
		if w <= 0 {
			w = cfg.RAG.TimeWindowSecs
		}
		err = a.timeline(ctx, *timeline, w)
	case *suggest != 0:
		err = a.suggest(ctx, *suggest)
	case *reindex != "":
		err = a.reindex(ctx, *reindex)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if errors.Is(err, models.ErrNotFound) {
		log.Fatal().Err(err).Msg("Not found")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func setupLogging(cfg *config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := db.OpenStore(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	var blobs blob.Store
	switch cfg.Storage.Backend {
	case "minio":
		blobs, err = blob.NewMinioStore(ctx, &cfg.Storage)
	case "local":
		blobs, err = blob.NewLocalStore(cfg.Storage.LocalDir)
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		store.Close()
		return nil, err
	}

	indices, err := vectorindex.NewManager(cfg.Index.Dir, cfg.Index.TextDim, cfg.Index.ImageDim)
	if err != nil {
		store.Close()
		return nil, err
	}
	for _, m := range indices.Unhealthy() {
		log.Warn().Str("modality", string(m)).Msg("Index was discarded at load, run -reindex to rebuild it")
	}

	textEmbedder, err := embedding.NewTextEmbedder(&cfg.EmbedLLM)
	if err != nil {
		store.Close()
		return nil, err
	}
	generator, err := llmservice.NewGenerator(&cfg.LLM)
	if err != nil {
		store.Close()
		return nil, err
	}

	if cfg.Ingest.TempDir != "" {
		if err := helper.CreateFolder(cfg.Ingest.TempDir); err != nil {
			store.Close()
			return nil, err
		}
	}

	pipeline := ingest.NewPipeline(ingest.Deps{
		Store:         store,
		Blobs:         blobs,
		Indices:       indices,
		Extractor:     parser.NewFileExtractor(),
		Chunker:       chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		TextEmbedder:  textEmbedder,
		ImageEmbedder: embedding.NewHTTPImageEmbedder(&cfg.ImageEmbed),
		Transcriber:   transcribe.NewWhisperClient(&cfg.Transcribe),
	}, ingest.Options{
		MinSegmentSecs: cfg.RAG.MinSegmentSecs,
		TempDir:        cfg.Ingest.TempDir,
	})

	engine := rag.NewEngine(rag.Deps{
		Store:     store,
		Blobs:     blobs,
		Indices:   indices,
		Text:      textEmbedder,
		ImageText: embedding.NewImageQueryEmbedder(&cfg.ImageTextEmbed),
		Generator: generator,
	}, rag.Options{
		Temperature:          *cfg.RAG.Temperature,
		MaxTokens:            cfg.RAG.MaxTokens,
		ExpansionTemperature: *cfg.RAG.ExpansionTemperature,
		ExpansionMaxTokens:   cfg.RAG.ExpansionMaxTokens,
	})

	return &app{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		indices:  indices,
		pipeline: pipeline,
		engine:   engine,
		linker:   linker.New(store),
	}, nil
}

// ingestFile uploads path and processes it on the background queue, waiting
// for the queue to drain.
func (a *app) ingestFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	doc, err := a.pipeline.Upload(ctx, filepath.Base(path), f, stat.Size())
	if err != nil {
		return err
	}
	log.Info().Int64("document_id", doc.ID).Str("modality", string(doc.Modality)).Msg("Uploaded document")

	queue := ingest.NewQueue(a.pipeline, a.cfg.Ingest.Workers, a.cfg.Ingest.QueueSize)
	queue.Start(ctx)
	if err := queue.Submit(ctx, doc.ID); err != nil {
		return err
	}
	if err := queue.Stop(); err != nil {
		return err
	}

	doc, err = a.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusCompleted {
		return fmt.Errorf("document %d %s: %s", doc.ID, doc.Status, doc.Error)
	}
	helper.PrettyPrint(doc)
	return nil
}

func (a *app) ask(ctx context.Context, query string, topK int, mods []models.Modality) error {
	answer, err := a.engine.Ask(ctx, query, topK, mods)
	if err != nil {
		return err
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, c := range answer.Citations {
		fmt.Printf("[%d] %s (%s)%s\n", c.Number, c.Source, c.Modality, locator(c))
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Text)
	return nil
}

func locator(c models.Citation) string {
	switch {
	case c.Page != nil:
		return fmt.Sprintf(" page %d", *c.Page)
	case c.StartTime != nil && c.EndTime != nil:
		return fmt.Sprintf(" %.1fs-%.1fs", *c.StartTime, *c.EndTime)
	}
	return ""
}

func (a *app) search(ctx context.Context, query string, topK int, mods []models.Modality, hybrid bool) error {
	var (
		hits []models.Hit
		err  error
	)
	if hybrid {
		hits, err = a.engine.HybridSearch(ctx, query, topK, mods)
	} else {
		hits, err = a.engine.Search(ctx, query, topK, mods)
	}
	if err != nil {
		return err
	}
	helper.PrettyPrint(hits)
	return nil
}

func (a *app) listDocuments(ctx context.Context, modality string) error {
	filter := db.DocumentFilter{}
	if modality != "" {
		m, err := models.ParseModality(modality)
		if err != nil {
			return err
		}
		filter.Modality = m
	}
	docs, err := a.store.ListDocuments(ctx, filter)
	if err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Printf("%d\t%s\t%s\t%s\t%s\n", d.ID, d.Modality, d.Status, d.OriginalFilename, d.CreatedAt.Format(time.RFC3339))
	}
	log.Info().Interface("index", a.indices.Stats()).Msg("Vector counts")
	return nil
}

func (a *app) listChunks(ctx context.Context, docID int64) error {
	if _, err := a.store.GetDocument(ctx, docID); err != nil {
		return err
	}
	chunks, err := a.store.ChunksByDocument(ctx, docID)
	if err != nil {
		return err
	}
	helper.PrettyPrint(chunks)
	return nil
}

func (a *app) related(ctx context.Context, sourceID int64, modality string) error {
	if modality == "" {
		return errors.New("-related needs -modality")
	}
	m, err := models.ParseModality(modality)
	if err != nil {
		return err
	}
	rel, err := a.linker.RelatedContent(ctx, sourceID, m)
	if err != nil {
		return err
	}
	helper.PrettyPrint(rel)
	return nil
}

func (a *app) timeline(ctx context.Context, segmentID int64, window float64) error {
	segs, err := a.linker.RelatedByTimestamp(ctx, segmentID, window)
	if err != nil {
		return err
	}
	helper.PrettyPrint(segs)
	return nil
}

func (a *app) suggest(ctx context.Context, docID int64) error {
	questions, err := a.engine.SuggestQuestions(ctx, docID)
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(questions, "\n"))
	return nil
}

func (a *app) reindex(ctx context.Context, modality string) error {
	m, err := models.ParseModality(modality)
	if err != nil {
		return err
	}
	n, err := a.pipeline.Reindex(ctx, m)
	if err != nil {
		return err
	}
	log.Info().Str("modality", string(m)).Int("vectors", n).Msg("Index rebuilt")
	return nil
}
