// Package graphql provides the GraphQL schema definition and resolvers
package graphql

import (
	"errors"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/lockscan/database"
	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/rules"
)

func severityOf(source interface{}) string {
	switch v := source.(type) {
	case model.Finding:
		return string(v.Severity)
	case *model.Finding:
		return string(v.Severity)
	case model.CVERule:
		return string(v.Severity)
	case *model.CVERule:
		return string(v.Severity)
	}
	return string(model.SeverityUnknown)
}

func severityResolver(p graphql.ResolveParams) (interface{}, error) {
	return severityOf(p.Source), nil
}

// FindingType defines the GraphQL object for one vulnerable package
var FindingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Finding",
	Fields: graphql.Fields{
		"package":        &graphql.Field{Type: graphql.String},
		"currentVersion": &graphql.Field{Type: graphql.String},
		"fixedVersion":   &graphql.Field{Type: graphql.String},
		"severity":       &graphql.Field{Type: graphql.String, Resolve: severityResolver},
		"advisoryUrl":    &graphql.Field{Type: graphql.String},
	},
})

// ProjectType defines the GraphQL object for one scanned project
var ProjectType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Project",
	Fields: graphql.Fields{
		"name":       &graphql.Field{Type: graphql.String},
		"path":       &graphql.Field{Type: graphql.String},
		"framework":  &graphql.Field{Type: graphql.String},
		"vulnerable": &graphql.Field{Type: graphql.Boolean},
		"findings":   &graphql.Field{Type: graphql.NewList(FindingType)},
	},
})

// ScanResultType defines the GraphQL object for the outcome of a directory or SBOM scan
var ScanResultType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ScanResult",
	Fields: graphql.Fields{
		"cve":        &graphql.Field{Type: graphql.String},
		"vulnerable": &graphql.Field{Type: graphql.Boolean},
		"scanTime":   &graphql.Field{Type: graphql.DateTime},
		"projects":   &graphql.Field{Type: graphql.NewList(ProjectType)},
		"errors":     &graphql.Field{Type: graphql.NewList(graphql.String)},
	},
})

// RulePackageType defines the GraphQL object for an affected package entry of a rule
var RulePackageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "RulePackage",
	Fields: graphql.Fields{
		"name":       &graphql.Field{Type: graphql.String},
		"vulnerable": &graphql.Field{Type: graphql.String},
		"fixed":      &graphql.Field{Type: graphql.NewList(graphql.String)},
		"notes":      &graphql.Field{Type: graphql.String},
	},
})

// RuleType defines the GraphQL object for a CVE rule
var RuleType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Rule",
	Fields: graphql.Fields{
		"id":          &graphql.Field{Type: graphql.String},
		"title":       &graphql.Field{Type: graphql.String},
		"severity":    &graphql.Field{Type: graphql.String, Resolve: severityResolver},
		"advisoryUrl": &graphql.Field{Type: graphql.String},
		"cvss": &graphql.Field{
			Type: graphql.Float,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if rule, ok := p.Source.(*model.CVERule); ok && rule.CVSS != nil {
					return *rule.CVSS, nil
				}
				return nil, nil
			},
		},
		"packages":   &graphql.Field{Type: graphql.NewList(RulePackageType)},
		"frameworks": &graphql.Field{Type: graphql.NewList(RulePackageType)},
	},
})

// ScanRecordType defines the GraphQL object for a stored scan
var ScanRecordType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ScanRecord",
	Fields: graphql.Fields{
		"key": &graphql.Field{Type: graphql.String, Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			rec, _ := p.Source.(model.ScanRecord)
			return rec.Key, nil
		}},
		"kind":         &graphql.Field{Type: graphql.String},
		"target":       &graphql.Field{Type: graphql.String},
		"cve":          &graphql.Field{Type: graphql.String},
		"vulnerable":   &graphql.Field{Type: graphql.Boolean},
		"scanTime":     &graphql.Field{Type: graphql.DateTime},
		"projectCount": &graphql.Field{Type: graphql.Int},
		"findingCount": &graphql.Field{Type: graphql.Int},
		"purls":        &graphql.Field{Type: graphql.NewList(graphql.String)},
		"basePurls":    &graphql.Field{Type: graphql.NewList(graphql.String)},
		"result":       &graphql.Field{Type: ScanResultType},
	},
})

func stringArgs(v interface{}) []string {
	items, _ := v.([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CreateSchema generates and returns the configured GraphQL schema for the API.
func CreateSchema(r *Resolver) (graphql.Schema, error) {
	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"scan": &graphql.Field{
				Type: ScanResultType,
				Args: graphql.FieldConfigArgument{
					"path":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"ignore": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
					"cve":    &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					path := p.Args["path"].(string)
					cve, _ := p.Args["cve"].(string)
					result, err := r.Scan(p.Context, path, stringArgs(p.Args["ignore"]), cve)
					if err != nil {
						return nil, err
					}
					return result, nil
				},
			},
			"sbom": &graphql.Field{
				Type: ScanResultType,
				Args: graphql.FieldConfigArgument{
					"path": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"cve":  &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					path := p.Args["path"].(string)
					cve, _ := p.Args["cve"].(string)
					result, err := r.ScanSBOM(p.Context, path, cve)
					if err != nil {
						return nil, err
					}
					return result, nil
				},
			},
			"rule": &graphql.Field{
				Type: RuleType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					rule, err := r.Scanner.Rules().Get(p.Args["id"].(string))
					if errors.Is(err, rules.ErrRuleNotFound) {
						return nil, nil
					}
					if err != nil {
						return nil, err
					}
					return rule, nil
				},
			},
			"rules": &graphql.Field{
				Type: graphql.NewList(RuleType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return r.Scanner.Rules().All()
				},
			},
			"history": &graphql.Field{
				Type: graphql.NewList(ScanRecordType),
				Args: graphql.FieldConfigArgument{
					"cve":     &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"package": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"limit":   &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					cve, _ := p.Args["cve"].(string)
					pkg, _ := p.Args["package"].(string)
					limit, _ := p.Args["limit"].(int)
					return r.FindScans(p.Context, database.HistoryQuery{CVE: cve, Package: pkg, Limit: limit})
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: rootQuery,
	})
}
