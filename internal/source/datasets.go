package source

import "github.com/couchcryptid/precip-grid-etl/internal/domain"

// secondsPerDay converts kg m-2 s-1 fluxes into daily totals.
const secondsPerDay = 86400

// DefaultTemplates are the file layouts under the native directory, keyed by
// dataset. "{version}" and "{year}" are substituted; "*" matches ensemble
// members.
var DefaultTemplates = map[string]string{
	"chirps":   "chirps/chirps-v{version}.{year}.days_p25.nc",
	"eobs":     "eobs/rr_ens_mean_0.25deg_reg_v{version}.0e.nc",
	"iberia01": "iberia01/Iberia01_v{version}_DD_010reg_aa3d_pr.nc",
	"DePreSys": "depresys{version}/{year}/pr_day_r*.nc",
}

// chirpsLastYear is the last complete year of CHIRPS v2.0 daily data; later
// files are partial.
const chirpsLastYear = 2015

// NewCHIRPS reads the CHIRPS 0.25 degree daily files, one per year. The
// files carry no coordinate system.
func NewCHIRPS(s Settings) Adapter {
	return &dataset{
		name:     "chirps",
		version:  s.Version,
		spec:     domain.VariableSpec{Name: variableOr(s), NativeName: "precip", Scale: 1, FillValue: -9999},
		dir:      s.Dir,
		template: templateOr(s, DefaultTemplates["chirps"]),
		layout:   perYear,
		lastYear: chirpsLastYear,
		kind:     domain.KindMean,
		reader:   s.Reader,
	}
}

// NewEOBS reads the E-OBS ensemble-mean file holding the whole record.
func NewEOBS(s Settings) Adapter {
	return &dataset{
		name:     "eobs",
		version:  s.Version,
		spec:     domain.VariableSpec{Name: variableOr(s), NativeName: "rr", Scale: 1, FillValue: -9999},
		dir:      s.Dir,
		template: templateOr(s, DefaultTemplates["eobs"]),
		layout:   singleFile,
		kind:     domain.KindMean,
		reader:   s.Reader,
	}
}

// NewIberia01 reads the Iberia01 0.1 degree analysis. Conservative
// regridding cannot carry its land mask, so its masked cells are regridded
// as zeros and repaired against the reference dataset.
func NewIberia01(s Settings) Adapter {
	return &dataset{
		name:     "iberia01",
		version:  s.Version,
		spec:     domain.VariableSpec{Name: variableOr(s), NativeName: "pr", Scale: 1, FillValue: 1e20},
		dir:      s.Dir,
		template: templateOr(s, DefaultTemplates["iberia01"]),
		layout:   singleFile,
		repair:   true,
		kind:     domain.KindMean,
		reader:   s.Reader,
	}
}

// NewDePreSys reads the DePreSys decadal hindcast ensemble, one file per
// member and year, averaged across members on load. Its grid is the common
// target grid.
func NewDePreSys(s Settings) Adapter {
	return &dataset{
		name:     "DePreSys",
		version:  s.Version,
		spec:     domain.VariableSpec{Name: variableOr(s), NativeName: "precipitation_flux", Scale: secondsPerDay, FillValue: 1e20},
		dir:      s.Dir,
		template: templateOr(s, DefaultTemplates["DePreSys"]),
		layout:   members,
		kind:     domain.KindEnsembleMean,
		reader:   s.Reader,
	}
}
