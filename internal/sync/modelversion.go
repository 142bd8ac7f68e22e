package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/docsift/docsift/internal/doc"
	"github.com/docsift/docsift/internal/platform"
	"github.com/docsift/docsift/internal/schema"
)

// fetchModelVersions returns the current model version of every inferred
// field in the collection that has a trained model.
func fetchModelVersions(ctx context.Context, client *platform.Client, collectionID string) (map[string]int, error) {
	query := fmt.Sprintf(`@__system::ecs name='file_collections::%s'
            [.: flatten(fields[field, infer_func])]
            [field_name: field.name,
                model_version: join_one(__training_membership, infer_func.model_name, model_name).model_version
            ] -model_version=null`, collectionID)

	resp, err := client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query model versions: %w", err)
	}
	rows, err := resp.Rows()
	if err != nil {
		return nil, err
	}

	versions := make(map[string]int, len(rows))
	for _, row := range rows {
		name, _ := row["field_name"].(string)
		version, ok := row["model_version"].(float64)
		if name == "" || !ok {
			continue
		}
		versions[name] = int(version)
	}
	return versions, nil
}

// fetchRemoteSchema retrieves the collection's inferred fields as a
// document schema. Collections with no inferred fields yield an empty
// schema.
func fetchRemoteSchema(ctx context.Context, client *platform.Client, collectionID string) (*doc.DocSchema, error) {
	resp, err := client.Query(ctx, fmt.Sprintf("@`file_collections::%s` limit:0", collectionID))
	if err != nil {
		return nil, fmt.Errorf("failed to query collection schema: %w", err)
	}
	if resp.Schema == nil {
		return doc.NewDocSchema(), nil
	}
	return schema.ParseRemoteFields(schema.FilterInferred(resp.Schema.Children))
}

// modelVersionTarget computes the summed model version the collection
// should reach once every field retrains on the updated labels. Existing
// human labels whose values do not change keep their version, so the
// expected increment counts only rows that will actually move.
func modelVersionTarget(ctx context.Context, client *platform.Client, collectionID string, roots []schema.Field, modelVersions map[string]int) (int, error) {
	increments := []string{"0"}
	for _, f := range roots {
		increments = append(increments, fmt.Sprintf(
			"(SUM(IF(`%s`.Label.IsPrediction or `%s`=null, 1, %d-`%s`.ModelVersion)))",
			f.Name, f.Name, modelVersions[f.Name], f.Name))
	}
	incrementQuery := fmt.Sprintf("@`file_collections::%s`[increment: %s]",
		collectionID, strings.Join(increments, " + "))

	increment, err := queryScalarInt(ctx, client, incrementQuery, "increment")
	if err != nil {
		return 0, fmt.Errorf("failed to compute expected model version increment: %w", err)
	}

	current, err := queryScalarInt(ctx, client, sumVersionsQuery(collectionID, roots), "sum_mv")
	if err != nil {
		return 0, fmt.Errorf("failed to read current model versions: %w", err)
	}
	return current + increment, nil
}

// waitForModelVersions blocks until the collection's summed model
// version reaches target, meaning every model has retrained.
func waitForModelVersions(ctx context.Context, client *platform.Client, collectionID string, roots []schema.Field, target int, log *slog.Logger) error {
	// Aggregate queries cannot be polled, so this is a plain retry loop.
	query := fmt.Sprintf("%s [sum_mv] sum_mv >= %d", sumVersionsQuery(collectionID, roots), target)
	return retry.Do(
		func() error {
			sum, err := queryScalarInt(ctx, client, query, "sum_mv")
			if err != nil {
				return err
			}
			log.Debug("model version total reached", "sum", sum, "target", target)
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(600),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func sumVersionsQuery(collectionID string, roots []schema.Field) string {
	sums := []string{"0"}
	for _, f := range roots {
		sums = append(sums, fmt.Sprintf("SUM(`%s`.`ModelVersion`)", f.Name))
	}
	return fmt.Sprintf("@`file_collections::%s`[sum_mv: %s]", collectionID, strings.Join(sums, " + "))
}

// queryScalarInt runs a single-row aggregate query and extracts one
// numeric column. A query with no rows is an error, which is what the
// retry loop in waitForModelVersions relies on.
func queryScalarInt(ctx context.Context, client *platform.Client, query, column string) (int, error) {
	resp, err := client.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	rows, err := resp.Rows()
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("query returned no rows")
	}
	v, ok := rows[0][column].(float64)
	if !ok {
		return 0, fmt.Errorf("query returned no %q column", column)
	}
	return int(v), nil
}
