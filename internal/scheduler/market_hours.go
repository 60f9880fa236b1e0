package scheduler

import (
	"time"

	"github.com/rs/zerolog"
)

// TradingWindow represents a single trading period within a day.
type TradingWindow struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// ExchangeCalendar defines trading hours and holidays for one exchange
// segment this control plane can route orders to.
type ExchangeCalendar struct {
	Code           string
	Name           string
	TimezoneStr    string
	Timezone       *time.Location
	TradingWindows []TradingWindow
	Holidays       []time.Time // Year-specific trading holidays
}

// MarketHoursService reports whether an exchange segment is currently open,
// gating order dispatch (broadcaster) so a leg is never sent to a closed
// market instead of surfacing an ambiguous upstream rejection.
type MarketHoursService struct {
	calendars map[string]*ExchangeCalendar
	log       zerolog.Logger
}

// NewMarketHoursService builds the calendar set for the three exchange
// segments this platform's contract resolver and watchlist symbols route
// through: NFO (NSE F&O), BFO (BSE F&O), and MCX (commodity derivatives).
func NewMarketHoursService(log zerolog.Logger) *MarketHoursService {
	service := &MarketHoursService{
		calendars: make(map[string]*ExchangeCalendar),
		log:       log.With().Str("component", "market_hours").Logger(),
	}
	service.initializeCalendars()
	return service
}

func (s *MarketHoursService) initializeCalendars() {
	istLoc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		istLoc = time.UTC
	}

	// Republic Day, Holi, Ram Navami, Mahavir Jayanti, Good Friday, Ambedkar
	// Jayanti, Maharashtra Day, Bakri Id, Independence Day, Gandhi Jayanti,
	// Dussehra, Diwali (Laxmi Pujan + Balipratipada), Gurunanak Jayanti,
	// Christmas — the NSE/BSE trading-holiday list for the exchange year.
	equityHolidays := []time.Time{
		time.Date(2026, 1, 26, 0, 0, 0, 0, istLoc),
		time.Date(2026, 3, 14, 0, 0, 0, 0, istLoc),
		time.Date(2026, 3, 30, 0, 0, 0, 0, istLoc),
		time.Date(2026, 4, 2, 0, 0, 0, 0, istLoc),
		time.Date(2026, 4, 10, 0, 0, 0, 0, istLoc),
		time.Date(2026, 4, 14, 0, 0, 0, 0, istLoc),
		time.Date(2026, 5, 1, 0, 0, 0, 0, istLoc),
		time.Date(2026, 7, 7, 0, 0, 0, 0, istLoc),
		time.Date(2026, 8, 15, 0, 0, 0, 0, istLoc),
		time.Date(2026, 10, 2, 0, 0, 0, 0, istLoc),
		time.Date(2026, 10, 23, 0, 0, 0, 0, istLoc),
		time.Date(2026, 11, 11, 0, 0, 0, 0, istLoc),
		time.Date(2026, 11, 12, 0, 0, 0, 0, istLoc),
		time.Date(2026, 11, 25, 0, 0, 0, 0, istLoc),
		time.Date(2026, 12, 25, 0, 0, 0, 0, istLoc),
	}

	// NFO: NSE's equity derivatives segment. Conservative core window,
	// avoiding the first/last fifteen minutes' volatility.
	s.calendars["NFO"] = &ExchangeCalendar{
		Code:        "XNSE",
		Name:        "NFO",
		TimezoneStr: "Asia/Kolkata",
		Timezone:    istLoc,
		TradingWindows: []TradingWindow{
			{OpenHour: 9, OpenMinute: 30, CloseHour: 15, CloseMinute: 15},
		},
		Holidays: equityHolidays,
	}

	// BFO: BSE's equity derivatives segment shares NSE's trading calendar.
	s.calendars["BFO"] = &ExchangeCalendar{
		Code:        "XBOM",
		Name:        "BFO",
		TimezoneStr: "Asia/Kolkata",
		Timezone:    istLoc,
		TradingWindows: []TradingWindow{
			{OpenHour: 9, OpenMinute: 30, CloseHour: 15, CloseMinute: 15},
		},
		Holidays: equityHolidays,
	}

	// MCX: commodity derivatives trade a longer session than equities, with
	// its own (shorter) holiday list.
	s.calendars["MCX"] = &ExchangeCalendar{
		Code:        "XIMC",
		Name:        "MCX",
		TimezoneStr: "Asia/Kolkata",
		Timezone:    istLoc,
		TradingWindows: []TradingWindow{
			{OpenHour: 9, OpenMinute: 15, CloseHour: 23, CloseMinute: 15},
		},
		Holidays: []time.Time{
			time.Date(2026, 1, 26, 0, 0, 0, 0, istLoc),
			time.Date(2026, 3, 14, 0, 0, 0, 0, istLoc),
			time.Date(2026, 8, 15, 0, 0, 0, 0, istLoc),
			time.Date(2026, 10, 2, 0, 0, 0, 0, istLoc),
			time.Date(2026, 11, 11, 0, 0, 0, 0, istLoc),
			time.Date(2026, 12, 25, 0, 0, 0, 0, istLoc),
		},
	}

	s.log.Info().Int("calendars", len(s.calendars)).Msg("market hours calendars initialized")
}

// GetCalendar returns the calendar for an exchange segment, defaulting to
// NFO for anything unrecognized.
func (s *MarketHoursService) GetCalendar(exchange string) *ExchangeCalendar {
	if cal, ok := s.calendars[exchange]; ok {
		return cal
	}
	s.log.Warn().Str("exchange", exchange).Msg("unknown exchange segment, defaulting to NFO")
	return s.calendars["NFO"]
}

// IsMarketOpen reports whether exchange is currently inside a trading
// window, excluding weekends and the segment's configured holidays.
func (s *MarketHoursService) IsMarketOpen(exchange string) bool {
	cal := s.GetCalendar(exchange)
	now := time.Now().In(cal.Timezone)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, cal.Timezone)
	for _, holiday := range cal.Holidays {
		if holiday.Equal(today) {
			return false
		}
	}

	currentMinutes := now.Hour()*60 + now.Minute()
	for _, window := range cal.TradingWindows {
		openMinutes := window.OpenHour*60 + window.OpenMinute
		closeMinutes := window.CloseHour*60 + window.CloseMinute
		if currentMinutes >= openMinutes && currentMinutes < closeMinutes {
			return true
		}
	}
	return false
}

// MarketStatus reports one exchange segment's current open/closed state.
type MarketStatus struct {
	Exchange string `json:"exchange"`
	IsOpen   bool   `json:"is_open"`
	Timezone string `json:"timezone"`
}

// GetAllMarketStatuses returns the status of every configured exchange
// segment, for the REST surface's market-hours endpoint.
func (s *MarketHoursService) GetAllMarketStatuses() []MarketStatus {
	statuses := make([]MarketStatus, 0, len(s.calendars))
	for name, cal := range s.calendars {
		statuses = append(statuses, MarketStatus{
			Exchange: name,
			IsOpen:   s.IsMarketOpen(name),
			Timezone: cal.TimezoneStr,
		})
	}
	return statuses
}
