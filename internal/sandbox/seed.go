package sandbox

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ehr/fhircheck/pkg/fhirmodels"
)

// SeedConfig controls synthetic data loaded into a fresh sandbox.
type SeedConfig struct {
	Patients             int
	ConditionsPerPatient int
	// Seed makes the data reproducible; 0 picks a time-based seed.
	Seed int64
}

type codeEntry struct {
	Code    string
	Display string
}

var (
	seedGivenMale   = []string{"James", "Omar", "Daniel", "Yusuf", "Lucas", "Ravi", "Mateo", "Kenji"}
	seedGivenFemale = []string{"Amira", "Sofia", "Grace", "Leila", "Hana", "Priya", "Emma", "Noor"}
	seedFamily      = []string{"Garcia", "Haddad", "Nguyen", "Okafor", "Smith", "Tanaka", "Rahman", "Novak"}

	seedConditions = []codeEntry{
		{"38341003", "Hypertensive disorder"},
		{"44054006", "Diabetes mellitus type 2"},
		{"195967001", "Asthma"},
		{"35489007", "Depressive disorder"},
		{"13645005", "Chronic obstructive lung disease"},
		{"55822004", "Hyperlipidemia"},
	}
	seedClinicalStatuses = []string{
		fhirmodels.ConditionActive, fhirmodels.ConditionActive, fhirmodels.ConditionRemission, fhirmodels.ConditionResolved,
	}
)

type generator struct {
	rng *rand.Rand
}

func newGenerator(seed int64) *generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *generator) date(minYear, maxYear int) string {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	return fmt.Sprintf("%04d-%02d-%02d", y, 1+g.rng.Intn(12), 1+g.rng.Intn(28))
}

func (g *generator) patient() map[string]interface{} {
	gender, given := fhirmodels.GenderMale, g.pick(seedGivenMale)
	if g.rng.Intn(2) == 0 {
		gender, given = fhirmodels.GenderFemale, g.pick(seedGivenFemale)
	}
	family := g.pick(seedFamily)
	return map[string]interface{}{
		"resourceType": fhirmodels.ResourcePatient,
		"active":       true,
		"name": []interface{}{
			map[string]interface{}{
				"use":    fhirmodels.NameUseOfficial,
				"text":   given + " " + family,
				"family": family,
				"given":  []interface{}{given},
			},
		},
		"gender":    gender,
		"birthDate": g.date(1940, 2015),
	}
}

func (g *generator) condition(patientID string) map[string]interface{} {
	c := seedConditions[g.rng.Intn(len(seedConditions))]
	return map[string]interface{}{
		"resourceType": fhirmodels.ResourceCondition,
		"clinicalStatus": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{"system": fhirmodels.SystemConditionClinical, "code": g.pick(seedClinicalStatuses)},
			},
		},
		"code": map[string]interface{}{
			"text": c.Display,
			"coding": []interface{}{
				map[string]interface{}{"system": fhirmodels.SystemSNOMED, "code": c.Code, "display": c.Display},
			},
		},
		"subject":       map[string]interface{}{"reference": fhirmodels.ResourcePatient + "/" + patientID},
		"onsetDateTime": g.date(2015, 2024),
	}
}

// Seed loads synthetic Patients, each with its Conditions, in one
// transaction and returns how many resources were written.
func (s *Store) Seed(cfg SeedConfig) (int, error) {
	if cfg.Patients <= 0 {
		return 0, nil
	}
	g := newGenerator(cfg.Seed)
	written := 0
	err := s.Transact(func(tx *Tx) error {
		for i := 0; i < cfg.Patients; i++ {
			p, err := tx.Create(fhirmodels.ResourcePatient, "", g.patient())
			if err != nil {
				return err
			}
			written++
			if !s.Supports(fhirmodels.ResourceCondition) {
				continue
			}
			for j := 0; j < cfg.ConditionsPerPatient; j++ {
				if _, err := tx.Create(fhirmodels.ResourceCondition, "", g.condition(p.ID)); err != nil {
					return err
				}
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed sandbox: %w", err)
	}
	return written, nil
}
