// Command sor runs the statement-of-results workflow: creating requests,
// driving them through rendering, signing and upload, and serving the batch
// sweeps on a schedule.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mindworx/sor"
	"github.com/mindworx/sor/adapters/execrenderer"
	"github.com/mindworx/sor/adapters/hellosign"
	"github.com/mindworx/sor/adapters/kafkanotifier"
	"github.com/mindworx/sor/adapters/moodle"
	"github.com/mindworx/sor/adapters/sqlstore"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "sor",
		Short:         "Statement of results workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./sor.yaml)")

	cmd.AddCommand(
		createCmd(),
		processCmd(),
		uploadCmd(),
		checkSignaturesCmd(),
		syncGradesCmd(),
		recalcScoresCmd(),
		statsCmd(),
		auditCmd(),
		resetCmd(),
		runCmd(),
	)

	return cmd
}

func initConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("sor")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/sor")
	}

	viper.SetEnvPrefix("SOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("tables.requests", "sor_requests")
	viper.SetDefault("tables.audit", "sor_audit_log")
	viper.SetDefault("schedules.pending", "@every 5m")
	viper.SetDefault("schedules.signature_check", "@every 2m")
	viper.SetDefault("schedules.grade_sync", "@every 1h")
	viper.SetDefault("documents.dir", "generated_sors")

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			// Environment-only configuration is fine.
			return nil
		}
		return errors.Wrap(err, "read config")
	}

	return nil
}

// connect opens the MySQL connection for the request store. parseTime is
// required for the datetime columns.
func connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("missing db dsn")
	}
	if !strings.Contains(dsn, "parseTime") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "parseTime=true"
	}

	dbc, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}

	return dbc, nil
}

func engineConfig() (sor.Config, error) {
	weights := make(map[int64]float64)
	for key, value := range viper.GetStringMap("weights") {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		weights[id], _ = toFloat(value)
	}

	// A standalone weight table file takes precedence, so assessors can
	// adjust weightings without touching the service config.
	if path := viper.GetString("weights_file"); path != "" {
		var err error
		weights, err = loadWeightsFile(path)
		if err != nil {
			return sor.Config{}, err
		}
	}

	return sor.Config{
		Weights:          weights,
		SkipSignature:    viper.GetBool("signing.skip"),
		TargetID:         viper.GetInt64("moodle.assignment_id"),
		DocumentDir:      viper.GetString("documents.dir"),
		MaxSignatureWait: viper.GetDuration("signing.max_wait"),
		OverdueThreshold: viper.GetDuration("dashboard.overdue_threshold"),
		ParallelCount:    viper.GetInt("sweeps.parallel_count"),
		ListLimit:        viper.GetInt("sweeps.list_limit"),
	}, nil
}

func loadWeightsFile(path string) (map[int64]float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read weights file", j.KV("path", path))
	}

	weights := make(map[int64]float64)
	err = yaml.Unmarshal(b, &weights)
	if err != nil {
		return nil, errors.Wrap(err, "parse weights file", j.KV("path", path))
	}

	return weights, nil
}

func toFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case int:
		return float64(f), true
	case string:
		parsed, err := strconv.ParseFloat(f, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// newEngine wires the production collaborators from configuration.
func newEngine(ctx context.Context) (*sor.Engine, error) {
	storeDB, err := connect(viper.GetString("db.dsn"))
	if err != nil {
		return nil, err
	}

	store := sqlstore.New(storeDB, storeDB,
		viper.GetString("tables.requests"),
		viper.GetString("tables.audit"),
	)

	moodleDSN := viper.GetString("moodle.dsn")
	moodleDB := storeDB
	if moodleDSN != "" {
		moodleDB, err = connect(moodleDSN)
		if err != nil {
			return nil, err
		}
	}

	var quizIDs []int64
	for _, id := range viper.GetIntSlice("moodle.quiz_ids") {
		quizIDs = append(quizIDs, int64(id))
	}

	source := moodle.NewSource(moodleDB, quizIDs)

	grader := moodle.NewClient(
		viper.GetString("moodle.url"),
		viper.GetString("moodle.token"),
	)

	var signerOpts []hellosign.Option
	if viper.GetBool("signing.test_mode") {
		signerOpts = append(signerOpts, hellosign.WithTestMode())
	}
	signer := hellosign.New(viper.GetString("signing.api_key"), signerOpts...)

	renderer := execrenderer.New(
		viper.GetString("renderer.binary"),
		viper.GetStringSlice("renderer.args")...,
	)

	var opts []sor.EngineOption
	if brokers := viper.GetStringSlice("kafka.brokers"); len(brokers) > 0 {
		opts = append(opts, sor.WithAuditNotifier(
			kafkanotifier.New(brokers, viper.GetString("kafka.topic")),
		))
	}

	err = os.MkdirAll(viper.GetString("documents.dir"), 0o755)
	if err != nil {
		return nil, errors.Wrap(err, "create document dir", j.KV("dir", viper.GetString("documents.dir")))
	}

	cfg, err := engineConfig()
	if err != nil {
		return nil, err
	}

	return sor.NewEngine(store, source, renderer, signer, grader, cfg, opts...), nil
}
