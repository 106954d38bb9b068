package core

import (
	"context"

	"BestdoriArchiver/internal/asset"
)

// Resolver は、サーバー一覧を固定順に試し、最初に存在を確認できたサーバーを返します。
// 同じIDの別バリアントで成功したサーバーがあれば、それを最初に試します。
// ID間でサーバーの優先度を学習することはありません。
type Resolver struct {
	prober *Prober
}

// NewResolver は Resolver を生成します。
func NewResolver(prober *Prober) *Resolver {
	return &Resolver{prober: prober}
}

// Resolve は、存在が確認できたサーバーと true を返します。どのサーバーにもなければ "", false です。
func (r *Resolver) Resolve(ctx context.Context, spec *asset.Spec, id int, v asset.Variant, preferred string) (string, bool) {
	for _, server := range candidateServers(spec.Servers, preferred) {
		if r.prober.Probe(ctx, spec, server, id, v) {
			return server, true
		}
	}
	return "", false
}

// candidateServers は、preferred を先頭に置き、残りを元の順序で並べます。
func candidateServers(servers []string, preferred string) []string {
	if preferred == "" {
		return servers
	}
	out := make([]string, 0, len(servers)+1)
	out = append(out, preferred)
	for _, s := range servers {
		if s != preferred {
			out = append(out, s)
		}
	}
	return out
}
