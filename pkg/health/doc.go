/*
Package health provides the low-level check primitives the instance shim
client (pkg/shim) uses to decide whether an instance's host is reachable
and ready: HTTPChecker (poll the shim's /health endpoint), TCPChecker
(probe a TCP port) and ExecChecker (run a local command).

None of these checkers know about instances, jobs or the reconciler; they
return a plain Result{Healthy, Message, CheckedAt, Duration}. pkg/shim
uses HTTPChecker for every instance and adapts the result to the
reconciler.HealthChecker interface consumed by pkg/reconciler/instance.go;
TCPChecker and ExecChecker have no caller in orbiter.

# Status tracking

Status accumulates ConsecutiveFailures/ConsecutiveSuccesses across repeated
checks and applies the Retries threshold from Config before flipping
Healthy, so a single flaky probe does not mark a good instance unreachable.
InStartPeriod reports whether a freshly-provisioned instance is still
inside its StartPeriod grace window, during which failures are expected
and ignored.

# See Also

  - pkg/shim, the only caller of HTTPChecker
  - pkg/reconciler/instance.go, which consumes shim.Client as a
    reconciler.HealthChecker
*/
package health
