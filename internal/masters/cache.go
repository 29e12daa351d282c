// Package masters loads the reference tables (prefectures, cities,
// occupations, employment types, features, SEO keywords) into in-memory
// lookups for one pipeline run. The cache is read-only after Load.
package masters

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Prefecture is one row of the prefecture master.
type Prefecture struct {
	Code   string
	Name   string
	Region string
}

// City is one row of the city master. AdjacentCityCodes comes straight from
// the master's array column; adjacency is never computed from coordinates.
type City struct {
	Code              string
	PrefCd            string
	Name              string
	Latitude          float64
	Longitude         float64
	AdjacentCityCodes []string
}

// Occupation is one row of the occupation master, keyed by major code.
type Occupation struct {
	Code string
	Name string
}

// EmploymentType is one row of the employment type master.
type EmploymentType struct {
	Code int
	Name string
}

// Feature is one row of the feature code master.
type Feature struct {
	Code string
	Name string
}

// Keyword is one row of the imported SEMrush keyword table.
type Keyword struct {
	Keyword      string
	SearchVolume int
	Difficulty   float64
	Category     string
}

// Cache holds all master lookups for a run.
type Cache struct {
	prefectures     map[string]Prefecture
	cities          map[string]City
	occupations     map[string]Occupation
	employmentTypes map[int]EmploymentType
	features        map[string]Feature
	keywords        []Keyword

	// region name -> prefecture codes, for the regional widening step
	regionPrefs map[string][]string
}

// Load reads every master table into memory. It fails when any required
// master is empty; matching cannot run against partial reference data.
func Load(ctx context.Context, db *sql.DB) (*Cache, error) {
	c := &Cache{
		prefectures:     make(map[string]Prefecture),
		cities:          make(map[string]City),
		occupations:     make(map[string]Occupation),
		employmentTypes: make(map[int]EmploymentType),
		features:        make(map[string]Feature),
		regionPrefs:     make(map[string][]string),
	}

	if err := c.loadPrefectures(ctx, db); err != nil {
		return nil, err
	}
	if err := c.loadCities(ctx, db); err != nil {
		return nil, err
	}
	if err := c.loadOccupations(ctx, db); err != nil {
		return nil, err
	}
	if err := c.loadEmploymentTypes(ctx, db); err != nil {
		return nil, err
	}
	if err := c.loadFeatures(ctx, db); err != nil {
		return nil, err
	}
	if err := c.loadKeywords(ctx, db); err != nil {
		return nil, err
	}

	for _, name := range []struct {
		table string
		n     int
	}{
		{"prefectures", len(c.prefectures)},
		{"cities", len(c.cities)},
		{"occupations", len(c.occupations)},
		{"employment_types", len(c.employmentTypes)},
		{"features", len(c.features)},
	} {
		if name.n == 0 {
			return nil, fmt.Errorf("master table %s is empty", name.table)
		}
	}
	return c, nil
}

func (c *Cache) loadPrefectures(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT pref_cd, name, region FROM m_prefectures`)
	if err != nil {
		return fmt.Errorf("load prefectures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Prefecture
		if err := rows.Scan(&p.Code, &p.Name, &p.Region); err != nil {
			return fmt.Errorf("scan prefecture: %w", err)
		}
		c.prefectures[p.Code] = p
		c.regionPrefs[p.Region] = append(c.regionPrefs[p.Region], p.Code)
	}
	return rows.Err()
}

func (c *Cache) loadCities(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `
		SELECT city_cd, pref_cd, name, COALESCE(latitude, 0), COALESCE(longitude, 0),
		       COALESCE(nearby_city_codes, '{}')
		FROM m_cities`)
	if err != nil {
		return fmt.Errorf("load cities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var city City
		if err := rows.Scan(&city.Code, &city.PrefCd, &city.Name,
			&city.Latitude, &city.Longitude, pq.Array(&city.AdjacentCityCodes)); err != nil {
			return fmt.Errorf("scan city: %w", err)
		}
		c.cities[city.Code] = city
	}
	return rows.Err()
}

func (c *Cache) loadOccupations(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT occupation_cd, name FROM m_occupations`)
	if err != nil {
		return fmt.Errorf("load occupations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o Occupation
		if err := rows.Scan(&o.Code, &o.Name); err != nil {
			return fmt.Errorf("scan occupation: %w", err)
		}
		c.occupations[o.Code] = o
	}
	return rows.Err()
}

func (c *Cache) loadEmploymentTypes(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT employment_type_cd, name FROM m_employment_types`)
	if err != nil {
		return fmt.Errorf("load employment types: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e EmploymentType
		if err := rows.Scan(&e.Code, &e.Name); err != nil {
			return fmt.Errorf("scan employment type: %w", err)
		}
		c.employmentTypes[e.Code] = e
	}
	return rows.Err()
}

func (c *Cache) loadFeatures(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT feature_cd, name FROM m_features`)
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.Code, &f.Name); err != nil {
			return fmt.Errorf("scan feature: %w", err)
		}
		c.features[f.Code] = f
	}
	return rows.Err()
}

func (c *Cache) loadKeywords(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `
		SELECT keyword, search_volume, COALESCE(difficulty, 0), COALESCE(category, '')
		FROM m_seo_keywords
		ORDER BY search_volume DESC, keyword ASC`)
	if err != nil {
		return fmt.Errorf("load seo keywords: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k Keyword
		if err := rows.Scan(&k.Keyword, &k.SearchVolume, &k.Difficulty, &k.Category); err != nil {
			return fmt.Errorf("scan seo keyword: %w", err)
		}
		c.keywords = append(c.keywords, k)
	}
	return rows.Err()
}

// Prefecture returns the prefecture master row for a code.
func (c *Cache) Prefecture(code string) (Prefecture, bool) {
	p, ok := c.prefectures[code]
	return p, ok
}

// City returns the city master row for a code.
func (c *Cache) City(code string) (City, bool) {
	city, ok := c.cities[code]
	return city, ok
}

// HasOccupation reports whether the major occupation code exists.
func (c *Cache) HasOccupation(code string) bool {
	_, ok := c.occupations[code]
	return ok
}

// HasEmploymentType reports whether the employment type code exists.
func (c *Cache) HasEmploymentType(code int) bool {
	_, ok := c.employmentTypes[code]
	return ok
}

// HasFeature reports whether the feature code exists in the master.
func (c *Cache) HasFeature(code string) bool {
	_, ok := c.features[code]
	return ok
}

// Keywords returns the SEO keyword rows, highest search volume first.
func (c *Cache) Keywords() []Keyword { return c.keywords }

// Adjacency returns the set of city codes adjacent to the given city,
// excluding the city itself. Unknown cities yield an empty set.
func (c *Cache) Adjacency(cityCd string) map[string]bool {
	out := make(map[string]bool)
	city, ok := c.cities[cityCd]
	if !ok {
		return out
	}
	for _, adj := range city.AdjacentCityCodes {
		if adj != cityCd {
			out[adj] = true
		}
	}
	return out
}

// Region returns the region name of a prefecture, empty when unknown.
func (c *Cache) Region(prefCd string) string {
	return c.prefectures[prefCd].Region
}

// RegionPrefectures returns every prefecture code within a region.
func (c *Cache) RegionPrefectures(region string) []string {
	return c.regionPrefs[region]
}
