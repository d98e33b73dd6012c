package postgis

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

type queries struct {
	ddl    []string
	upsert string
	prune  string
}

func buildQueries(schema, table string, srid int) queries {
	ident := pgx.Identifier{schema, table}.Sanitize()
	geomIdx := pgx.Identifier{table + "_geom_idx"}.Sanitize()
	regionIdx := pgx.Identifier{table + "_region_idx"}.Sanitize()

	ddl := []string{"CREATE EXTENSION IF NOT EXISTS postgis"}
	if schema != "public" {
		ddl = append(ddl, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{schema}.Sanitize()))
	}
	ddl = append(ddl,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    edge_id     TEXT PRIMARY KEY,
    name        TEXT,
    alt_names   TEXT[],
    region      TEXT NOT NULL,
    waterway    TEXT,
    source_ways BIGINT[] NOT NULL,
    length_m    DOUBLE PRECISION,
    geom        GEOMETRY(LineString, %d) NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, ident, srid),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)", geomIdx, ident),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (region)", regionIdx, ident),
	)

	upsert := fmt.Sprintf(`INSERT INTO %s (edge_id, name, alt_names, region, waterway, source_ways, length_m, geom, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,ST_GeomFromEWKB($8),NOW())
ON CONFLICT (edge_id) DO UPDATE
SET name = EXCLUDED.name,
    alt_names = EXCLUDED.alt_names,
    region = EXCLUDED.region,
    waterway = EXCLUDED.waterway,
    source_ways = EXCLUDED.source_ways,
    length_m = EXCLUDED.length_m,
    geom = EXCLUDED.geom,
    updated_at = NOW()`, ident)

	prune := fmt.Sprintf("DELETE FROM %s WHERE region = $1 AND NOT (edge_id = ANY($2))", ident)

	return queries{ddl: ddl, upsert: upsert, prune: prune}
}
