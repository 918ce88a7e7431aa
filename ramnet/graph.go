package ramnet

import (
	"fmt"

	"github.com/awalterschulze/gographviz"
)

// ToDot renders the unrolled step structure as a graphviz graph: one column
// per glimpse with the recurrent edge threading the hidden state forward and
// the sampled location feeding the next retina call.
func (n *Net) ToDot() string {
	g := gographviz.NewGraph()
	if err := g.SetName("RAM"); err != nil {
		panic(err)
	}
	g.SetDir(true)

	boxAttrs := map[string]string{"shape": "box", "fontname": "Monaco"}
	headAttrs := map[string]string{"shape": "ellipse", "fontname": "Monaco"}

	for t := 0; t < n.NumGlimpses; t++ {
		enc := fmt.Sprintf("encoder_%d", t)
		core := fmt.Sprintf("core_%d", t)
		pol := fmt.Sprintf("policy_%d", t)
		val := fmt.Sprintf("critic_%d", t)
		cls := fmt.Sprintf("classifier_%d", t)
		dec := fmt.Sprintf("decoder_%d", t)

		g.AddNode("RAM", enc, boxAttrs)
		g.AddNode("RAM", core, boxAttrs)
		g.AddNode("RAM", pol, headAttrs)
		g.AddNode("RAM", val, headAttrs)
		g.AddNode("RAM", cls, headAttrs)
		g.AddNode("RAM", dec, headAttrs)

		g.AddEdge(enc, core, true, nil)
		g.AddEdge(core, pol, true, map[string]string{"style": "dashed", "label": "detached"})
		g.AddEdge(core, val, true, map[string]string{"style": "dashed", "label": "detached"})
		g.AddEdge(core, cls, true, nil)
		g.AddEdge(core, dec, true, map[string]string{"style": "dashed", "label": "detached"})

		if t > 0 {
			g.AddEdge(fmt.Sprintf("core_%d", t-1), core, true, map[string]string{"label": "h"})
			g.AddEdge(fmt.Sprintf("policy_%d", t-1), enc, true, map[string]string{"label": "loc"})
		}
	}
	return g.String()
}
