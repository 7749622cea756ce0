package staging

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cdw/cdw/internal/domain/fact"
)

type repoPG struct {
	pool   *pgxpool.Pool
	tables fact.Tables
}

func NewRepo(pool *pgxpool.Pool, tables fact.Tables) Repository {
	return &repoPG{pool: pool, tables: tables}
}

var loadColumns = []string{
	"patient_ide", "encounter_ide", "encounter_ide_source", "encounter_num",
	"concept_cd", "provider_id", "start_date", "modifier_cd", "instance_num",
	"valtype_cd", "tval_char", "nval_num", "valueflag_cd", "quantity_num",
	"units_cd", "end_date", "location_cd", "confidence_num", "update_date",
	"sourcesystem_cd",
}

func (r *repoPG) Prepare(ctx context.Context, uploadID int64) error {
	load := r.tables.Ident(r.tables.LoadName(uploadID))
	stage := r.tables.Ident(r.tables.StagingName(uploadID))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	stmts := []string{
		`DROP TABLE IF EXISTS ` + load,
		`DROP TABLE IF EXISTS ` + stage,
		`CREATE UNLOGGED TABLE ` + load + ` (
			patient_ide          varchar(200),
			encounter_ide        varchar(200),
			encounter_ide_source varchar(50),
			encounter_num        bigint,
			concept_cd           varchar(50) NOT NULL,
			provider_id          varchar(50) NOT NULL,
			start_date           timestamp NOT NULL,
			modifier_cd          varchar(100) NOT NULL,
			instance_num         bigint NOT NULL,
			valtype_cd           varchar(50),
			tval_char            varchar(255),
			nval_num             numeric(18,5),
			valueflag_cd         varchar(50),
			quantity_num         numeric(18,5),
			units_cd             varchar(50),
			end_date             timestamp,
			location_cd          varchar(50),
			confidence_num       numeric(18,5),
			update_date          timestamp,
			sourcesystem_cd      varchar(50)
		)`,
		`CREATE TABLE ` + stage + ` (LIKE ` + r.tables.FactIdent() + ` INCLUDING DEFAULTS)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s); err != nil {
			return fmt.Errorf("prepare upload %d: %w", uploadID, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *repoPG) CopyRows(ctx context.Context, uploadID int64, rows []fact.Row) (int64, error) {
	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{r.tables.Schema, r.tables.LoadName(uploadID)},
		loadColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := &rows[i]
			var patient *string
			if row.PatientIDE != "" {
				patient = &row.PatientIDE
			}
			return []any{
				patient, row.EncounterIDE, row.EncounterIDESource, row.EncounterNum,
				row.ConceptCD, row.ProviderID, row.StartDate, row.ModifierCD, row.Instance(),
				row.ValtypeCD, row.TvalChar, row.NvalNum, row.ValueflagCD, row.QuantityNum,
				row.UnitsCD, row.EndDate, row.LocationCD, row.ConfidenceNum, row.UpdateDate,
				row.SourcesystemCD,
			}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("copy into load table: %w", err)
	}
	return n, nil
}

// mappingCTEs reduces each external id to its smallest surrogate key. $1 is
// the optional patient_ide_source filter.
func (r *repoPG) mappingCTEs() string {
	return `
		WITH pm AS (
			SELECT patient_ide, min(patient_num) AS patient_num
			FROM ` + r.tables.Ident("patient_mapping") + `
			WHERE $1::text IS NULL OR patient_ide_source = $1::text
			GROUP BY patient_ide
		), em AS (
			SELECT encounter_ide, encounter_ide_source, min(encounter_num) AS encounter_num
			FROM ` + r.tables.Ident("encounter_mapping") + `
			GROUP BY encounter_ide, encounter_ide_source
		)`
}

// inRange is the inclusive patient_num filter on $2 and $3.
const inRange = `($2::bigint IS NULL OR pm.patient_num >= $2::bigint)
		  AND ($3::bigint IS NULL OR pm.patient_num <= $3::bigint)`

func (r *repoPG) populateSQL(uploadID int64) string {
	load := r.tables.Ident(r.tables.LoadName(uploadID))
	stage := r.tables.Ident(r.tables.StagingName(uploadID))
	return r.mappingCTEs() + `
		INSERT INTO ` + stage + ` (
			encounter_num, patient_num, concept_cd, provider_id, start_date,
			modifier_cd, instance_num, valtype_cd, tval_char, nval_num,
			valueflag_cd, quantity_num, units_cd, end_date, location_cd,
			confidence_num, update_date, download_date, import_date,
			sourcesystem_cd, upload_id
		)
		SELECT coalesce(l.encounter_num, em.encounter_num), pm.patient_num,
			l.concept_cd, l.provider_id, l.start_date,
			l.modifier_cd, l.instance_num, l.valtype_cd, l.tval_char, l.nval_num,
			l.valueflag_cd, l.quantity_num, l.units_cd, l.end_date, l.location_cd,
			l.confidence_num, l.update_date, $4::timestamp, now(),
			coalesce(l.sourcesystem_cd, $5::text), $6::bigint
		FROM ` + load + ` l
		JOIN pm ON pm.patient_ide = l.patient_ide
		LEFT JOIN em ON em.encounter_ide = l.encounter_ide
			AND em.encounter_ide_source = l.encounter_ide_source
		WHERE ` + inRange + `
		  AND coalesce(l.encounter_num, em.encounter_num) IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM ` + r.tables.FactIdent() + ` f
			WHERE f.patient_num = pm.patient_num
			  AND f.concept_cd = l.concept_cd
			  AND f.modifier_cd = l.modifier_cd
			  AND f.start_date = l.start_date
			  AND f.encounter_num = coalesce(l.encounter_num, em.encounter_num)
			  AND f.instance_num = l.instance_num
			  AND f.provider_id = l.provider_id
		  )`
}

func (r *repoPG) exclusionSQL(uploadID int64) string {
	load := r.tables.Ident(r.tables.LoadName(uploadID))
	return r.mappingCTEs() + `
		SELECT count(*),
			count(*) FILTER (WHERE pm.patient_num IS NULL),
			count(*) FILTER (WHERE pm.patient_num IS NOT NULL AND NOT (` + inRange + `)),
			count(*) FILTER (WHERE pm.patient_num IS NOT NULL AND (` + inRange + `)
				AND coalesce(l.encounter_num, em.encounter_num) IS NULL)
		FROM ` + load + ` l
		LEFT JOIN pm ON pm.patient_ide = l.patient_ide
		LEFT JOIN em ON em.encounter_ide = l.encounter_ide
			AND em.encounter_ide_source = l.encounter_ide_source`
}

func (r *repoPG) Populate(ctx context.Context, uploadID int64, p JoinParams) (*Counts, error) {
	load := r.tables.Ident(r.tables.LoadName(uploadID))
	stage := r.tables.Ident(r.tables.StagingName(uploadID))

	if _, err := r.pool.Exec(ctx, `ANALYZE `+load); err != nil {
		return nil, fmt.Errorf("analyze load table: %w", err)
	}

	groups, err := r.groups(ctx, uploadID, p)
	if err != nil {
		return nil, err
	}
	c := &Counts{}
	for _, g := range groups {
		tag, err := r.pool.Exec(ctx, r.populateSQL(uploadID),
			p.PatientSource, g.Lo, g.Hi, p.DownloadDate, p.SourceSystem, uploadID)
		if err != nil {
			return nil, fmt.Errorf("populate staging for patients %s: %w", g, err)
		}
		c.Staged += tag.RowsAffected()
	}

	err = r.pool.QueryRow(ctx, r.exclusionSQL(uploadID), p.PatientSource, p.Range.Lo, p.Range.Hi).
		Scan(&c.Loaded, &c.Excluded.NoPatient, &c.Excluded.OutOfRange, &c.Excluded.NoEncounter)
	if err != nil {
		return nil, fmt.Errorf("count exclusions: %w", err)
	}
	c.Excluded.AlreadyLoaded = c.Loaded - c.Staged -
		c.Excluded.NoPatient - c.Excluded.OutOfRange - c.Excluded.NoEncounter

	err = r.pool.QueryRow(ctx, `SELECT count(*) FROM `+stage+` WHERE encounter_num < 0`).Scan(&c.Synthetic)
	if err != nil {
		return nil, fmt.Errorf("count synthetic encounters: %w", err)
	}
	return c, nil
}

// groups returns the patient_num ranges to populate one statement at a
// time. Open bounds are closed at the mapped patients of the load table.
func (r *repoPG) groups(ctx context.Context, uploadID int64, p JoinParams) ([]fact.Range, error) {
	if p.Groups <= 1 {
		return []fact.Range{p.Range}, nil
	}
	lo, hi := p.Range.Lo, p.Range.Hi
	if lo == nil || hi == nil {
		var minNum, maxNum *int64
		err := r.pool.QueryRow(ctx, r.mappingCTEs()+`
			SELECT min(pm.patient_num), max(pm.patient_num)
			FROM `+r.tables.Ident(r.tables.LoadName(uploadID))+` l
			JOIN pm ON pm.patient_ide = l.patient_ide
			WHERE `+inRange,
			p.PatientSource, p.Range.Lo, p.Range.Hi).Scan(&minNum, &maxNum)
		if err != nil {
			return nil, fmt.Errorf("patient range of load table: %w", err)
		}
		if minNum == nil {
			return nil, nil
		}
		if lo == nil {
			lo = minNum
		}
		if hi == nil {
			hi = maxNum
		}
	}
	return patientGroups(*lo, *hi, p.Groups), nil
}

func (r *repoPG) DropLoad(ctx context.Context, uploadID int64) error {
	_, err := r.pool.Exec(ctx, `DROP TABLE IF EXISTS `+r.tables.Ident(r.tables.LoadName(uploadID)))
	if err != nil {
		return fmt.Errorf("drop load table: %w", err)
	}
	return nil
}
