package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunridge/fieldtrack/internal/autocomplete"
	"github.com/sunridge/fieldtrack/internal/envstruct"
	"github.com/sunridge/fieldtrack/internal/errors"
	"github.com/sunridge/fieldtrack/internal/geo"
	"github.com/sunridge/fieldtrack/internal/logging"
	"github.com/sunridge/fieldtrack/internal/models"
	"github.com/sunridge/fieldtrack/internal/session"
	"github.com/sunridge/fieldtrack/internal/sqlite"
	"github.com/sunridge/fieldtrack/internal/sqlitestore"
)

type config struct {
	SQLiteURL       string        `env:"FIELDTRACK_SQLITE_URL" envDefault:"./fieldtrack.sqlite"`
	MinMovementM    float64       `env:"FIELDTRACK_MIN_MOVEMENT_M" envDefault:"3"`
	RadiusM         float64       `env:"FIELDTRACK_AUTOCOMPLETE_RADIUS_M" envDefault:"15"`
	MaxDwellSpeedMS float64       `env:"FIELDTRACK_MAX_DWELL_SPEED_MS" envDefault:"2.5"`
	DwellThreshold  time.Duration `env:"FIELDTRACK_DWELL_SECONDS" envDefault:"8s"`
	Debounce        time.Duration `env:"FIELDTRACK_DEBOUNCE_SECONDS" envDefault:"3s"`
}

var replayFlags struct {
	targetsPath  string
	fixesPath    string
	userID       string
	campaignID   string
	goalCount    int
	interval     time.Duration
	autoComplete bool
}

func init() {
	replayCmd.Flags().StringVar(&replayFlags.targetsPath, "targets", "", "CSV of session targets (id,lat,lon)")
	replayCmd.Flags().StringVar(&replayFlags.fixesPath, "fixes", "", "CSV of location fixes (timestamp,lat,lon[,speed_ms[,accuracy_m]])")
	replayCmd.Flags().StringVar(&replayFlags.userID, "user", "field-operator", "user id owning the session")
	replayCmd.Flags().StringVar(&replayFlags.campaignID, "campaign", "replay", "campaign id for the session")
	replayCmd.Flags().IntVar(&replayFlags.goalCount, "goal", 0, "session goal count (default: number of targets)")
	replayCmd.Flags().DurationVar(&replayFlags.interval, "interval", 2*time.Millisecond, "wall-clock delay between replayed fixes")
	replayCmd.Flags().BoolVar(&replayFlags.autoComplete, "autocomplete", true, "enable geofenced auto-completion")
	_ = replayCmd.MarkFlagRequired("targets")
	_ = replayCmd.MarkFlagRequired("fixes")
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded fix stream through a tracking session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return replay(cmd.Context())
	},
}

func replay(ctx context.Context) error {
	logger := slog.New(logging.NewContextHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	var cfg config
	if err := envstruct.Populate(&cfg, os.LookupEnv); err != nil {
		return errors.Wrap(err, "populate config")
	}

	targets, err := readTargets(replayFlags.targetsPath)
	if err != nil {
		return err
	}
	fixes, err := readFixes(replayFlags.fixesPath)
	if err != nil {
		return err
	}

	db, err := sqlite.NewDatabase(ctx, cfg.SQLiteURL, logger)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.LogAttrs(ctx, slog.LevelError, "close database", errors.SlogError(closeErr))
		}
	}()

	store := sqlitestore.New(db, logger)
	controller := session.NewController(store, session.Config{
		UserID:       replayFlags.userID,
		MinMovementM: cfg.MinMovementM,
		Detector: autocomplete.Config{
			RadiusM:         cfg.RadiusM,
			DwellThreshold:  cfg.DwellThreshold,
			MaxDwellSpeedMS: cfg.MaxDwellSpeedMS,
			Debounce:        cfg.Debounce,
		},
	}, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go db.StartDatabaseOptimizer(runCtx)
	go controller.Run(runCtx)

	goalCount := replayFlags.goalCount
	if goalCount == 0 {
		goalCount = len(targets)
	}
	sessionID, err := controller.Start(ctx, targets, session.StartConfig{
		CampaignID:   replayFlags.campaignID,
		GoalCount:    goalCount,
		GoalKind:     models.GoalKindTargets,
		AutoComplete: replayFlags.autoComplete,
	})
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "session started",
		slog.String("sessionID", sessionID),
		slog.Int("targets", len(targets)),
		slog.Int("fixes", len(fixes)))

	for _, fix := range fixes {
		controller.HandleFix(fix)
		time.Sleep(replayFlags.interval)
	}
	// Let the loop drain the tail of the fix buffer before stopping.
	time.Sleep(replayFlags.interval)

	summary, err := controller.Stop(ctx)
	if err != nil {
		return errors.Wrap(err, "stop session")
	}
	printSummary(summary)
	return nil
}

func printSummary(summary models.SessionSummary) {
	fmt.Printf("session %s\n", summary.SessionID)
	fmt.Printf("  started    %s\n", summary.StartedAt.Format(time.RFC3339))
	fmt.Printf("  ended      %s\n", summary.EndedAt.Format(time.RFC3339))
	fmt.Printf("  active     %ds\n", summary.ActiveSeconds)
	fmt.Printf("  distance   %.1f m\n", summary.DistanceM)
	fmt.Printf("  path       %d points\n", len(summary.Path))
	fmt.Printf("  completed  %d / %d\n", summary.CompletedCount, summary.GoalCount)
	fmt.Printf("  talks      %d\n", summary.Conversations)
}

// readTargets parses a targets CSV with rows of the form id,lat,lon. A header
// row is skipped when its latitude column is not numeric.
func readTargets(path string) ([]models.Target, error) {
	rows, err := readCSV(path, 3)
	if err != nil {
		return nil, err
	}

	var targets []models.Target
	for i, row := range rows {
		lat, latErr := strconv.ParseFloat(row[1], 64)
		lon, lonErr := strconv.ParseFloat(row[2], 64)
		if latErr != nil || lonErr != nil {
			if i == 0 {
				continue
			}
			return nil, errors.New("malformed target row",
				slog.String("path", path), slog.Int("row", i+1))
		}
		targets = append(targets, models.Target{
			ID:       row[0],
			Centroid: geo.Point{Lat: lat, Lon: lon},
		})
	}
	if len(targets) == 0 {
		return nil, errors.New("no targets in file", slog.String("path", path))
	}
	return targets, nil
}

// readFixes parses a fixes CSV with rows of the form
// timestamp,lat,lon[,speed_ms[,accuracy_m]]. Timestamps are RFC3339. Missing
// speed is recorded as unknown.
func readFixes(path string) ([]geo.Fix, error) {
	rows, err := readCSV(path, 3)
	if err != nil {
		return nil, err
	}

	var fixes []geo.Fix
	for i, row := range rows {
		timestamp, tsErr := time.Parse(time.RFC3339, row[0])
		if tsErr != nil {
			if i == 0 {
				continue
			}
			return nil, errors.Wrap(tsErr, "malformed fix timestamp",
				slog.String("path", path), slog.Int("row", i+1))
		}
		lat, latErr := strconv.ParseFloat(row[1], 64)
		lon, lonErr := strconv.ParseFloat(row[2], 64)
		if latErr != nil || lonErr != nil {
			return nil, errors.New("malformed fix row",
				slog.String("path", path), slog.Int("row", i+1))
		}

		fix := geo.Fix{
			Point:     geo.Point{Lat: lat, Lon: lon},
			SpeedMS:   -1,
			AccuracyM: -1,
			Heading:   -1,
			Timestamp: timestamp,
		}
		if len(row) > 3 && row[3] != "" {
			if fix.SpeedMS, err = strconv.ParseFloat(row[3], 64); err != nil {
				return nil, errors.Wrap(err, "malformed fix speed",
					slog.String("path", path), slog.Int("row", i+1))
			}
		}
		if len(row) > 4 && row[4] != "" {
			if fix.AccuracyM, err = strconv.ParseFloat(row[4], 64); err != nil {
				return nil, errors.Wrap(err, "malformed fix accuracy",
					slog.String("path", path), slog.Int("row", i+1))
			}
		}
		fixes = append(fixes, fix)
	}
	if len(fixes) == 0 {
		return nil, errors.New("no fixes in file", slog.String("path", path))
	}
	return fixes, nil
}

func readCSV(path string, minFields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open csv", slog.String("path", path))
	}
	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read csv", slog.String("path", path))
		}
		if len(row) < minFields {
			return nil, errors.New("too few columns", slog.String("path", path))
		}
		rows = append(rows, row)
	}
	return rows, nil
}
