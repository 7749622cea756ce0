package integration

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdw/cdw/internal/domain/fact"
)

func TestLoad_SmallestMappedKeysWin(t *testing.T) {
	w := newWarehouse(t)
	w.mapPatientIn(t, "A", "P1", 205)
	w.mapPatientIn(t, "B", "P1", 101)
	w.mapEncounterIn(t, "A", "C1", "CMS_CLAIM", 1005)
	w.mapEncounterIn(t, "B", "C1", "CMS_CLAIM", 1001)

	sum, err := w.runner.Run(context.Background(), batch(1, claimRow("P1", "C1", "ICD9:250.00")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Staged)

	patients, encounters := w.factKeys(t, 1)
	assert.Equal(t, []int64{101}, patients)
	assert.Equal(t, []int64{1001}, encounters)
}

func TestLoad_StayResolutionUsesSmallestEncounter(t *testing.T) {
	w := newWarehouse(t)
	seed(t, w)
	w.exec(t, `INSERT INTO facility_stay (stay_id, person_ide, admit_date, discharge_date) VALUES ('S1', 'P1', $1, $2)`,
		day.AddDate(0, 0, -1), day.AddDate(0, 0, 2))
	w.mapEncounterIn(t, "A", "S1", "MEDPAR", 7002)
	w.mapEncounterIn(t, "B", "S1", "MEDPAR", 7001)
	ctx := context.Background()

	num, err := w.resolver().ResolveEncounter(ctx, nil, "P1", day)
	require.NoError(t, err)
	assert.Equal(t, int64(7001), num)

	w.runner.WithResolver(w.resolver())
	sum, err := w.runner.Run(ctx, batch(1, fact.Row{PatientIDE: "P1", ConceptCD: "NDC:0001", StartDate: day}))
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.Synthetic)

	_, encounters := w.factKeys(t, 1)
	assert.Equal(t, []int64{7001}, encounters)
}

func TestLoad_UnmappedClaimDropped(t *testing.T) {
	w := newWarehouse(t)
	seed(t, w)
	w.runner.WithResolver(w.resolver())

	sum, err := w.runner.Run(context.Background(), batch(1,
		claimRow("P1", "C1", "ICD9:250.00"),
		claimRow("P1", "C9", "ICD9:401.9"),
	))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Staged)
	assert.Equal(t, int64(1), sum.Excluded.NoEncounter)
	assert.Equal(t, int64(0), sum.Synthetic)

	_, encounters := w.factKeys(t, 1)
	assert.Equal(t, []int64{1001}, encounters, "unmapped claim must not get a fallback key")
}

func TestLoad_PopulateByPatientGroups(t *testing.T) {
	w := newWarehouse(t)
	seed(t, w)
	w.mapEncounter(t, "C4", "CMS_CLAIM", 1004)

	b := batch(1,
		claimRow("P1", "C1", "ICD9:250.00"),
		claimRow("P1", "C2", "ICD9:401.9"),
		claimRow("P3", "C4", "ICD9:272.4"),
		claimRow("P2", "C3", "ICD9:250.00"),
	)
	b.Groups = 3

	sum, err := w.runner.Run(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Staged)
	assert.Equal(t, int64(1), sum.Excluded.NoPatient)

	patients, _ := w.factKeys(t, 1)
	assert.Equal(t, []int64{101, 101, 500}, patients)
}

func TestLoad_ClaimExtractCodes(t *testing.T) {
	w := newWarehouse(t)
	seed(t, w)

	src, err := fact.NewCSVSource(strings.NewReader(
		"patient_ide,claim_id,start_date,dx_code,encounter_ide_source\n" +
			"P1,C1,2012-03-04,9904,CMS_CLAIM\n"))
	require.NoError(t, err)
	b := batch(1)
	b.Source = src

	sum, err := w.runner.Run(context.Background(), b)
	require.NoError(t, err)
	require.Equal(t, int64(1), sum.Staged)

	var concept string
	err = w.pool.QueryRow(context.Background(),
		`SELECT concept_cd FROM observation_fact WHERE upload_id = 1`).Scan(&concept)
	require.NoError(t, err)
	assert.Equal(t, "ICD9:990.4", concept)
}
