// Package k8s provides a cluster.Elector on the Kubernetes coordination/v1
// Lease API.
//
//	client := kubernetes.NewForConfigOrDie(rest.InClusterConfig())
//	elector := k8s.New(client, "my-namespace")
//	eng, _ := engine.Build(d, engine.WithElector(elector))
package k8s
