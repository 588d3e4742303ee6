package work

// Sector is the stage category an item belongs to.
type Sector string

const (
	SectorPlanning Sector = "Planning"
	SectorBuild    Sector = "Build"
	SectorEval     Sector = "Eval"
	SectorDeploy   Sector = "Deploy"
)

// Sectors lists the pipeline stages in order.
var Sectors = []Sector{SectorPlanning, SectorBuild, SectorEval, SectorDeploy}

var sectorColors = map[Sector]string{
	SectorPlanning: "#6EE7B7",
	SectorBuild:    "#93C5FD",
	SectorEval:     "#FCA5A5",
	SectorDeploy:   "#FDE68A",
}

// Color returns the display color for the sector.
func (s Sector) Color() string {
	if color, ok := sectorColors[s]; ok {
		return color
	}
	return "#A1A1AA"
}

// Code returns a short lowercase tag used in generated item ids.
func (s Sector) Code() string {
	switch s {
	case SectorPlanning:
		return "plan"
	case SectorBuild:
		return "build"
	case SectorEval:
		return "eval"
	case SectorDeploy:
		return "deploy"
	}
	return "misc"
}
