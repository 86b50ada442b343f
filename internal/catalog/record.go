package catalog

import "time"

// Record is the athletes table row.
type Record struct {
	ID               uint   `gorm:"primaryKey"`
	WorldAthleticsID string `gorm:"size:16;uniqueIndex"`
	Name             string `gorm:"not null"`
	Country          string `gorm:"size:3"`
	Gender           string `gorm:"size:8;index;not null"`
	DateOfBirth      string
	RankingPoints    string
	MarathonRank     *int
	PersonalBest     string
	SeasonBest       string
	HeadshotURL      string
	ProfileURL       string `gorm:"column:world_athletics_profile_url"`
	Age              *int
	DataHash         string `gorm:"size:64"`
	RankingSource    string `gorm:"size:32;index"`
	LastFetchedAt    *time.Time
	LastSeenAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Record) TableName() string {
	return "athletes"
}

// ProgressionRecord is one season's best in one discipline.
type ProgressionRecord struct {
	ID              uint   `gorm:"primaryKey"`
	AthleteID       uint   `gorm:"not null;uniqueIndex:idx_progression_season"`
	Discipline      string `gorm:"size:64;not null;uniqueIndex:idx_progression_season"`
	Season          string `gorm:"size:8;not null;uniqueIndex:idx_progression_season"`
	EventID         string `gorm:"size:32"`
	MainEvent       bool
	Mark            string `gorm:"size:16"`
	Venue           string
	CompetitionDate string
	Competition     string
	ResultScore     *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ProgressionRecord) TableName() string {
	return "athlete_progression"
}

type RaceResultRecord struct {
	ID            uint   `gorm:"primaryKey"`
	AthleteID     uint   `gorm:"not null;uniqueIndex:idx_race_result"`
	Year          int    `gorm:"index"`
	Discipline    string `gorm:"size:64;not null;uniqueIndex:idx_race_result"`
	EventID       string `gorm:"size:32"`
	RaceDate      string `gorm:"size:32;not null;uniqueIndex:idx_race_result"`
	Competition   string `gorm:"not null;uniqueIndex:idx_race_result"`
	CompetitionID string `gorm:"size:32"`
	Venue         string
	Country       string `gorm:"size:3"`
	Place         string `gorm:"size:8"`
	Mark          string `gorm:"size:16"`
	ResultScore   *int
	Category      string `gorm:"size:8"`
	Race          string
	Wind          string `gorm:"size:8"`
	NotLegal      bool
	Remark        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (RaceResultRecord) TableName() string {
	return "athlete_race_results"
}

func progressionRecords(athleteID uint, page *AthletePage) []ProgressionRecord {
	var out []ProgressionRecord
	for _, p := range page.Progression {
		for _, sb := range p.Seasons {
			out = append(out, ProgressionRecord{
				AthleteID:       athleteID,
				Discipline:      p.Discipline,
				Season:          sb.Season,
				EventID:         p.EventID,
				MainEvent:       p.MainEvent,
				Mark:            sb.Mark,
				Venue:           sb.Venue,
				CompetitionDate: sb.Date,
				Competition:     sb.Competition,
				ResultScore:     sb.ResultScore,
			})
		}
	}
	return out
}

func raceResultRecords(athleteID uint, page *AthletePage) []RaceResultRecord {
	out := make([]RaceResultRecord, 0, len(page.Results))
	for _, r := range page.Results {
		out = append(out, RaceResultRecord{
			AthleteID:     athleteID,
			Year:          r.Year,
			Discipline:    r.Discipline,
			EventID:       r.EventID,
			RaceDate:      r.Date,
			Competition:   r.Competition,
			CompetitionID: r.CompetitionID,
			Venue:         r.Venue,
			Country:       r.Country,
			Place:         r.Place,
			Mark:          r.Mark,
			ResultScore:   r.ResultScore,
			Category:      r.Category,
			Race:          r.Race,
			Wind:          r.Wind,
			NotLegal:      r.NotLegal,
			Remark:        r.Remark,
		})
	}
	return out
}
