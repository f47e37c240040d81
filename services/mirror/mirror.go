// Package mirror copies committed instrument snapshots into MongoDB.
//
// The relational store stays authoritative. Mirror failures are logged by
// callers and never fail a batch.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"market_etl_backend/config"
	"market_etl_backend/models"
)

const writeChunk = 100

// Mirror receives instrument records after their transaction commits
type Mirror interface {
	Save(ctx context.Context, instruments []models.Instrument) error
	Close(ctx context.Context) error
}

// Nop is used when no mirror is configured
type Nop struct{}

func (Nop) Save(context.Context, []models.Instrument) error { return nil }
func (Nop) Close(context.Context) error                     { return nil }

// Document is the stored shape of one instrument, keyed by symbol
type Document struct {
	Symbol         string            `bson:"_id"`
	Name           string            `bson:"name"`
	Sector         string            `bson:"sector,omitempty"`
	Industry       string            `bson:"industry,omitempty"`
	Prices         map[string]string `bson:"prices"`
	Fundamentals   map[string]string `bson:"fundamentals"`
	Volume         *int64            `bson:"volume,omitempty"`
	TradeCount     *int64            `bson:"trade_count,omitempty"`
	QuoteTime      *time.Time        `bson:"quote_time,omitempty"`
	MarketStatus   string            `bson:"market_status"`
	DailyWatermark string            `bson:"daily_watermark,omitempty"`
	LastUpdated    *time.Time        `bson:"last_updated,omitempty"`
	MirroredAt     time.Time         `bson:"mirrored_at"`
}

func putDecimal(m map[string]string, key string, v decimal.NullDecimal) {
	if v.Valid {
		m[key] = v.Decimal.String()
	}
}

// ToDocument maps an instrument to its mirror document. Decimals are kept as
// strings so no precision is lost.
func ToDocument(inst models.Instrument, at time.Time) Document {
	prices := map[string]string{}
	putDecimal(prices, "last", inst.LastPrice)
	putDecimal(prices, "open", inst.OpenPrice)
	putDecimal(prices, "high", inst.HighPrice)
	putDecimal(prices, "low", inst.LowPrice)
	putDecimal(prices, "previous_close", inst.PreviousClose)
	putDecimal(prices, "change_amount", inst.ChangeAmount)
	putDecimal(prices, "change_percent", inst.ChangePercent)
	putDecimal(prices, "turnover", inst.Turnover)
	putDecimal(prices, "vwap", inst.VWAP)

	fundamentals := map[string]string{}
	putDecimal(fundamentals, "market_cap", inst.MarketCap)
	putDecimal(fundamentals, "pe_ttm", inst.PETTM)
	putDecimal(fundamentals, "roe_ttm", inst.ROETTM)
	putDecimal(fundamentals, "pb_ratio", inst.PBRatio)
	putDecimal(fundamentals, "debt_to_equity", inst.DebtToEquity)
	putDecimal(fundamentals, "current_ratio", inst.CurrentRatio)
	putDecimal(fundamentals, "dividend_yield", inst.DividendYield)

	return Document{
		Symbol:         inst.Symbol,
		Name:           inst.Name,
		Sector:         inst.Sector,
		Industry:       inst.Industry,
		Prices:         prices,
		Fundamentals:   fundamentals,
		Volume:         inst.Volume.Ptr(),
		TradeCount:     inst.TradeCount.Ptr(),
		QuoteTime:      inst.QuoteTime.Ptr(),
		MarketStatus:   inst.MarketStatus,
		DailyWatermark: inst.DailyWatermark.String,
		LastUpdated:    inst.LastUpdated.Ptr(),
		MirroredAt:     at.UTC(),
	}
}

// MongoMirror upserts instrument documents into one collection
type MongoMirror struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     *zap.Logger
}

// New returns a Nop mirror when no URI is configured, otherwise a connected MongoMirror
func New(ctx context.Context, cfg config.MirrorConfig, logger *zap.Logger) (Mirror, error) {
	if cfg.MongoURI == "" {
		return Nop{}, nil
	}
	return Connect(ctx, cfg, logger)
}

// Connect dials MongoDB and verifies the connection with a ping
func Connect(ctx context.Context, cfg config.MirrorConfig, logger *zap.Logger) (*MongoMirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.MongoURI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(timeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("mongodb mirror connected",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)
	return &MongoMirror{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Save replaces each instrument's document, inserting it when missing
func (m *MongoMirror) Save(ctx context.Context, instruments []models.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	now := time.Now()
	ops := make([]mongo.WriteModel, 0, len(instruments))
	for _, inst := range instruments {
		ops = append(ops, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": inst.Symbol}).
			SetReplacement(ToDocument(inst, now)).
			SetUpsert(true))
	}

	for i := 0; i < len(ops); i += writeChunk {
		end := min(i+writeChunk, len(ops))
		res, err := m.collection.BulkWrite(ctx, ops[i:end], options.BulkWrite().SetOrdered(false))
		if err != nil {
			return fmt.Errorf("mirror %d instruments: %w", end-i, err)
		}
		m.logger.Debug("mirrored instruments",
			zap.Int64("upserted", res.UpsertedCount),
			zap.Int64("modified", res.ModifiedCount),
		)
	}
	return nil
}

// Close disconnects the client
func (m *MongoMirror) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
