package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gregLibert/calypso-sam/internal/config"
	"github.com/gregLibert/calypso-sam/pkg/reader"
	"github.com/gregLibert/calypso-sam/pkg/sam"
	"github.com/gregLibert/calypso-sam/pkg/samcmd"
	"github.com/gregLibert/calypso-sam/pkg/transaction"
)

func main() {
	configPath := flag.String("config", "calypso-sam.yaml", "path to the YAML configuration")
	exportPath := flag.String("export", "", "prepare the ceiling writes as a batch file instead of executing them")
	importPath := flag.String("import", "", "execute a batch file on the target SAM")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	// Readers are released by run before the process exits.
	if err := run(log, *configPath, *exportPath, *importPath); err != nil {
		var txErr *samcmd.TransactionError
		if errors.As(err, &txErr) {
			fmt.Fprintln(os.Stderr, txErr.Report())
		}
		log.Error().Err(err).Str("kind", samcmd.KindOf(err).String()).Msg("demo failed")
		os.Exit(1)
	}
}

func run(log zerolog.Logger, configPath, exportPath, importPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	level, _ := cfg.Level()
	log = log.Level(level)

	// --- 1. Hardware Setup ---
	targetConn, err := reader.Connect(cfg.Target.Reader)
	if err != nil {
		return errors.Wrap(err, "connect target SAM reader")
	}
	defer closeReader(log, targetConn)
	log.Info().Str("reader", targetConn.Name).Msg("target SAM reader connected")

	serial, _ := cfg.Target.SerialNumber()
	product, _ := cfg.Target.ProductType()
	target := sam.NewState(serial, product, cfg.Target.Dynamic)

	// --- 2. Execution Flow ---
	if importPath != "" {
		if err := executeBatch(log, target, targetConn, importPath); err != nil {
			return errors.Wrap(err, "execute batch")
		}
	}

	if err := readCounters(log, target, targetConn); err != nil {
		return errors.Wrap(err, "read counters")
	}
	printCounters(target)

	if len(cfg.Ceilings) == 0 {
		return nil
	}

	controlConn, err := reader.Connect(cfg.Control.Reader)
	if err != nil {
		return errors.Wrap(err, "connect control SAM reader")
	}
	defer closeReader(log, controlConn)

	controlSerial, _ := cfg.Control.SerialNumber()
	controlProduct, _ := cfg.Control.ProductType()
	control := sam.NewState(controlSerial, controlProduct, false)

	if exportPath != "" {
		return errors.Wrap(exportCeilings(log, cfg, target, control, controlConn, exportPath), "export ceilings")
	}

	if err := writeCeilings(log, cfg, target, targetConn, control, controlConn); err != nil {
		return errors.Wrap(err, "write ceilings")
	}
	printCounters(target)
	return nil
}

// readCounters loads the system key parameters, the counters and the ceilings of the
// target SAM into its state.
func readCounters(log zerolog.Logger, target *sam.State, r reader.Reader) error {
	tx := transaction.NewDirect(target, r, transaction.WithLogger(log))
	for _, role := range []sam.KeyRole{sam.RolePersonalization, sam.RoleKeyManagement} {
		if err := tx.PrepareReadSystemKeyParameters(role); err != nil {
			return err
		}
	}
	if err := tx.PrepareReadAllEventCounters(); err != nil {
		return err
	}
	if err := tx.PrepareReadAllCeilings(); err != nil {
		return err
	}
	return tx.ProcessCommands()
}

func writeCeilings(log zerolog.Logger, cfg *config.Config, target *sam.State, targetReader reader.Reader, control *sam.State, controlReader reader.Reader) error {
	tx := transaction.NewSecureWrite(target, targetReader, control, controlReader, transaction.WithLogger(log))
	if err := prepareCeilings(cfg, tx); err != nil {
		return err
	}
	if err := tx.ProcessCommands(); err != nil {
		return err
	}
	log.Info().Int("writes", len(cfg.Ceilings)).Msg("ceilings written")
	return nil
}

func exportCeilings(log zerolog.Logger, cfg *config.Config, target, control *sam.State, controlReader reader.Reader, path string) error {
	snapshot, err := target.Snapshot(sam.RolePersonalization)
	if err != nil {
		return err
	}
	fmt.Println(snapshot.Describe())

	creator, err := transaction.NewAsyncCreator(snapshot, control, controlReader, transaction.WithLogger(log))
	if err != nil {
		return err
	}
	if err := prepareCeilings(cfg, creator); err != nil {
		return err
	}
	raw, err := creator.Export()
	if err != nil {
		return err
	}

	batch, err := transaction.UnmarshalBatch(raw)
	if err != nil {
		return err
	}
	fmt.Println(batch.Describe())

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return errors.Wrap(err, "write batch")
	}
	log.Info().Str("path", path).Msg("batch saved")
	return nil
}

func executeBatch(log zerolog.Logger, target *sam.State, r reader.Reader, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read batch")
	}
	if err := transaction.NewAsyncExecutor(target, r, transaction.WithLogger(log)).Execute(raw); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("batch executed")
	return nil
}

// ceilingPreparer is implemented by SecureWrite and AsyncCreator.
type ceilingPreparer interface {
	PrepareWriteCounterCeiling(counter int, ceiling uint32) error
	PrepareWriteCounterConfiguration(counter int, ceiling uint32, freeCounting bool) error
}

func prepareCeilings(cfg *config.Config, p ceilingPreparer) error {
	for _, w := range cfg.Ceilings {
		var err error
		if w.FreeCounting != nil {
			err = p.PrepareWriteCounterConfiguration(w.Counter, w.Ceiling, *w.FreeCounting)
		} else {
			err = p.PrepareWriteCounterCeiling(w.Counter, w.Ceiling)
		}
		if err != nil {
			return errors.Wrapf(err, "counter %d", w.Counter)
		}
	}
	return nil
}

func printCounters(target *sam.State) {
	fmt.Println("\n=============================================")
	fmt.Printf(" SAM %X (%s) EVENT COUNTERS\n", target.SerialNumber(), target.Product())
	fmt.Println("=============================================")
	fmt.Println(" #   value     ceiling   free")
	for n := 0; n < sam.NumRecords*sam.CountersPerRecord; n++ {
		value, _ := target.Counter(n)
		ceiling, ok := target.Ceiling(n)
		c := "-"
		if ok {
			c = fmt.Sprintf("%d", ceiling)
		}
		fmt.Printf(" %-3d %-9d %-9s %t\n", n, value, c, target.FreeCounting(n))
	}
}

func closeReader(log zerolog.Logger, c *reader.Connection) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("reader", c.Name).Msg("failed to close reader")
	}
}
