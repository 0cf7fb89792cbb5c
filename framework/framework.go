// Package framework guesses which JavaScript framework a project is built on from its
// declared dependencies, its resolved packages and well-known configuration files.
package framework

import (
	"path/filepath"

	"github.com/ortelius/lockscan/model"
	"github.com/ortelius/lockscan/util"
)

// Framework identifiers reported in ProjectResult.Framework.
const (
	NextJS      = "nextjs"
	ReactRouter = "react-router"
	Waku        = "waku"
	Expo        = "expo"
	ViteRSC     = "vite-rsc"
	ParcelRSC   = "parcel-rsc"
	Remix       = "remix"
	Gatsby      = "gatsby"
	Nuxt        = "nuxt"
	Vue         = "vue"
	SvelteKit   = "sveltekit"
	Svelte      = "svelte"
	Angular     = "angular"
	Express     = "express"
	React       = "react"
	Node        = "node"
	Unknown     = "unknown"
)

type signature struct {
	name     string
	packages []string
	configs  []string
}

// signatures are checked in order; meta-frameworks come before the libraries they build on.
var signatures = []signature{
	{NextJS, []string{"next"}, []string{"next.config.js", "next.config.mjs", "next.config.ts", "next.config.cjs"}},
	{ReactRouter, []string{"@react-router/dev"}, []string{"react-router.config.ts", "react-router.config.js"}},
	{Waku, []string{"waku"}, []string{"waku.config.ts", "waku.config.js"}},
	{Expo, []string{"expo"}, nil},
	{ViteRSC, []string{"@vitejs/plugin-rsc"}, nil},
	{ParcelRSC, []string{"@parcel/rsc", "react-server-dom-parcel"}, nil},
	{Remix, []string{"@remix-run/react", "@remix-run/dev", "@remix-run/node"}, []string{"remix.config.js", "remix.config.mjs"}},
	{Gatsby, []string{"gatsby"}, []string{"gatsby-config.js", "gatsby-config.ts"}},
	{Nuxt, []string{"nuxt", "nuxt3"}, []string{"nuxt.config.ts", "nuxt.config.js"}},
	{Vue, []string{"vue"}, []string{"vue.config.js"}},
	{SvelteKit, []string{"@sveltejs/kit"}, []string{"svelte.config.js"}},
	{Svelte, []string{"svelte"}, nil},
	{Angular, []string{"@angular/core"}, []string{"angular.json"}},
	{Express, []string{"express"}, nil},
	{React, []string{"react"}, nil},
}

// Classify returns the framework identifier for the project in dir. decl and resolved may be
// nil. Manifest dependencies and config files are consulted first; the resolved lockfile set
// only decides when neither names a framework. A project with a manifest but no recognised
// framework is "node".
func Classify(dir string, decl *model.ManifestDeclaration, resolved model.ResolvedPackageMap) string {
	for _, sig := range signatures {
		if sig.declared(dir, decl) {
			return sig.name
		}
	}
	for _, sig := range signatures {
		if sig.resolved(resolved) {
			return sig.name
		}
	}
	if decl != nil || util.FileExists(filepath.Join(dir, "package.json")) {
		return Node
	}
	return Unknown
}

func (s signature) declared(dir string, decl *model.ManifestDeclaration) bool {
	for _, pkg := range s.packages {
		if decl.HasDependency(pkg) {
			return true
		}
	}
	if dir == "" {
		return false
	}
	for _, cfg := range s.configs {
		if util.FileExists(filepath.Join(dir, cfg)) {
			return true
		}
	}
	return false
}

func (s signature) resolved(resolved model.ResolvedPackageMap) bool {
	for _, pkg := range s.packages {
		if _, ok := resolved[pkg]; ok {
			return true
		}
	}
	return false
}
