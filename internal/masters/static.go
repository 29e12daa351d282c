package masters

// NewStatic builds a cache directly from rows, bypassing the database.
// Used by fixtures and by any caller that already holds the masters.
func NewStatic(prefs []Prefecture, cities []City, occs []Occupation,
	emps []EmploymentType, feats []Feature, kws []Keyword) *Cache {

	c := &Cache{
		prefectures:     make(map[string]Prefecture, len(prefs)),
		cities:          make(map[string]City, len(cities)),
		occupations:     make(map[string]Occupation, len(occs)),
		employmentTypes: make(map[int]EmploymentType, len(emps)),
		features:        make(map[string]Feature, len(feats)),
		keywords:        kws,
		regionPrefs:     make(map[string][]string),
	}
	for _, p := range prefs {
		c.prefectures[p.Code] = p
		c.regionPrefs[p.Region] = append(c.regionPrefs[p.Region], p.Code)
	}
	for _, city := range cities {
		c.cities[city.Code] = city
	}
	for _, o := range occs {
		c.occupations[o.Code] = o
	}
	for _, e := range emps {
		c.employmentTypes[e.Code] = e
	}
	for _, f := range feats {
		c.features[f.Code] = f
	}
	return c
}
