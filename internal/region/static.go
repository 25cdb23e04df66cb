package region

// Static is a Region described entirely by data, as loaded from a manifest
// or built by tests. Optional maps are keyed by byte offset from Begin.
type Static struct {
	RegionName string
	RegionKind Kind
	Low, High  uint64
	Owner      string

	// TrailerOff is the offset of the non-code trailer; zero means none.
	TrailerOff uint64

	Debug   map[uint64][]string
	Cover   map[uint64][]string
	Notes   map[uint64]string
	Entries []SubRange
}

func (s *Static) Name() string  { return s.RegionName }
func (s *Static) Kind() Kind    { return s.RegionKind }
func (s *Static) Begin() uint64 { return s.Low }
func (s *Static) End() uint64   { return s.High }

func (s *Static) OwnerDescription() string { return s.Owner }

func (s *Static) DebugInfoAt(offset uint64) []string { return s.Debug[offset] }

func (s *Static) CoverageAt(offset uint64) []string { return s.Cover[offset] }

func (s *Static) RemarkAt(offset uint64) string { return s.Notes[offset] }

func (s *Static) TrailerOffset() (uint64, bool) {
	if s.TrailerOff == 0 || s.Low+s.TrailerOff >= s.High {
		return 0, false
	}
	return s.TrailerOff, true
}

func (s *Static) SubRanges() []SubRange { return s.Entries }
