// Package app describes hosted applications and the ordered registry the
// engine routes against.
//
// An application is reached either through one of its virtual hosts or
// through its context path on any host. Registration order is routing order.
//
//	shop, err := app.New("shop",
//		app.WithVirtualHosts("shop.test"),
//		app.WithValves(valve.Session(sessions), shopHandler),
//		app.WithErrorPage("404", notFound),
//		app.WithConnected(),
//	)
//
//	admin, err := app.New("admin", app.WithContextPath("/admin"), app.WithValves(adminHandler))
//
//	registry, err := app.NewRegistry(shop, admin)
package app
