package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/pipeline"
	"github.com/sells-group/insightminer/internal/store"
)

var (
	acquireURL     string
	acquireTimeout time.Duration
	acquirePersist bool
	acquireFormat  string
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire a single post by URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if acquireFormat != "json" && acquireFormat != "yaml" {
			return eris.Errorf("unsupported output format: %s", acquireFormat)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "migrate store")
			}
		}

		deps, err := initCapabilities()
		if err != nil {
			return err
		}
		deps.Store = st

		acq := pipeline.New(deps, pipeline.OptionsFromConfig(cfg))
		out := acq.Acquire(ctx, initSession(), acquireURL, acquireTimeout)

		if acquirePersist {
			if err := persistOutcome(ctx, st, out); err != nil {
				return err
			}
		}

		if err := writeOutcome(cmd.OutOrStdout(), out, acquireFormat); err != nil {
			return err
		}
		if !out.Success {
			return eris.Errorf("acquisition failed: %s", out.FailureKind)
		}
		return nil
	},
}

// persistOutcome stores the record of a successful, non-duplicate outcome.
func persistOutcome(ctx context.Context, st store.Store, out *model.AcquisitionOutcome) error {
	rec := model.NewRecord(out)
	if rec == nil || st == nil {
		return nil
	}
	if out.FingerprintDuplicate != nil && *out.FingerprintDuplicate {
		zap.L().Info("duplicate content, not persisted",
			zap.String("exact_hash", rec.Fingerprint.ExactHash),
			zap.String("source_url", rec.SourceURL),
		)
		return nil
	}
	if err := st.UpsertRecord(ctx, rec); err != nil {
		return eris.Wrap(err, "persist record")
	}
	zap.L().Info("record persisted", zap.String("id", rec.ID), zap.String("exact_hash", rec.Fingerprint.ExactHash))
	return nil
}

func writeOutcome(w io.Writer, out *model.AcquisitionOutcome, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return eris.Wrap(err, "encode outcome")
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	acquireCmd.Flags().StringVar(&acquireURL, "url", "", "post URL (required)")
	acquireCmd.Flags().DurationVar(&acquireTimeout, "timeout", 0, "per-acquisition timeout (default acquire.timeout_secs)")
	acquireCmd.Flags().BoolVar(&acquirePersist, "persist", false, "store the record unless it is a duplicate")
	acquireCmd.Flags().StringVar(&acquireFormat, "format", "json", "output format: json or yaml")
	_ = acquireCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(acquireCmd)
}
