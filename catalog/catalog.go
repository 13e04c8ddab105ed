// Package catalog reads the reference lists forms are populated from. The
// lists are best effort: a backend failure yields an empty or built-in list
// and is only logged.
package catalog

import (
	"context"
	"log/slog"
)

const (
	CitiesPath  = "/api/v1/cities"
	IDTypesPath = "/api/v1/id-types"
)

var baseLogAttr = slog.String("component", "catalog")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

type City struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IDType is a kind of identification document.
type IDType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// DefaultIDTypes is served when the backend list cannot be read.
var DefaultIDTypes = []IDType{
	{ID: "CC", Name: "Cédula de Ciudadanía", Code: "CC"},
	{ID: "CE", Name: "Cédula de Extranjería", Code: "CE"},
	{ID: "PA", Name: "Pasaporte", Code: "PA"},
	{ID: "TI", Name: "Tarjeta de Identidad", Code: "TI"},
	{ID: "NIT", Name: "Número de Identificación Tributaria", Code: "NIT"},
}

// Getter fetches JSON from the backend. *apiclient.Client implements it.
type Getter interface {
	Get(ctx context.Context, path string, into any) error
}

type Service struct {
	API Getter
}

// Cities returns the available cities, or an empty list if they could not be
// read.
func (s *Service) Cities(ctx context.Context) []City {
	var cities []City
	if err := s.API.Get(ctx, CitiesPath, &cities); err != nil {
		slog.WarnContext(ctx, "Could not read cities", baseLogAttr, slog.String("path", CitiesPath), errAttr(err))
		return []City{}
	}
	if cities == nil {
		return []City{}
	}
	return cities
}

// IDTypes returns the identification document types. DefaultIDTypes is
// returned if the backend could not be read.
func (s *Service) IDTypes(ctx context.Context) []IDType {
	var types []IDType
	if err := s.API.Get(ctx, IDTypesPath, &types); err != nil {
		slog.WarnContext(ctx, "Could not read id types, using defaults", baseLogAttr, slog.String("path", IDTypesPath), errAttr(err))
		return append([]IDType(nil), DefaultIDTypes...)
	}
	if types == nil {
		return []IDType{}
	}
	return types
}
