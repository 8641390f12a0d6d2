// Package domain models INMET (Instituto Nacional de Meteorologia) automatic
// weather-station data and the pure transforms applied to it.
//
// # Data Source
//
// INMET publishes one zip archive per calendar year at
// https://portal.inmet.gov.br/uploads/dadoshistoricos/<year>.zip. Each archive
// holds one CSV file per station, e.g.
// "INMET_CO_DF_A001_BRASILIA_01-01-2023_A_31-12-2023.CSV".
//
// # File Conventions
//
// Encoding and delimiters:
//
//	ISO-8859-1 (latin-1) in most years, occasionally UTF-8.
//	Cells separated by ";" with a decimal comma: "887,7" = 887.7.
//	Values may omit the leading zero: ",8" = 0.8.
//
// Station header (first eight lines, "KEY:;VALUE"):
//
//	REGIAO:;CO
//	UF:;DF
//	ESTACAO:;BRASILIA
//	CODIGO (WMO):;A001
//	LATITUDE:;-15,78944444
//	LONGITUDE:;-47,92583332
//	ALTITUDE:;1160,96
//	DATA DE FUNDACAO:;07/05/00
//
// Pre-2019 files spell the keys with accents ("REGIÃO:", "ESTAÇÃO:") and date
// the founding as "DATA DE FUNDAÇÃO (YYYY-MM-DD):;2000-05-07". Keys are
// matched after accent folding, see [FoldHeader].
//
// Layouts (see [Layout]):
//
//	Legacy (2000–2018): "DATA (YYYY-MM-DD);HORA (UTC);..." rows "2018-01-01;00:00;..."
//	Modern (2019+):     "Data;Hora UTC;..."                rows "2023/01/01;0000 UTC;..."
//
// All timestamps are UTC. "-9999" is the INMET sentinel for a missing reading
// and is treated like an empty cell.
//
// Units:
//
//	Pressure is published in millibars, which equal hectopascals.
//	Temperatures in °C, wind in m/s, precipitation in mm, global radiation in kJ/m².
//
// # Quality Rules
//
// Normalization never drops a row. [Validator] decides disposition with the
// ordered rules described on [RejectReason]; the first failing rule wins.
package domain
